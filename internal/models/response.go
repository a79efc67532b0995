package models

import (
	"time"

	"buszy.nrfz.sg/internal/clock"
)

// ResponseModel is the envelope of every JSON response.
type ResponseModel struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Data        any    `json:"data,omitempty"`
	Text        string `json:"text"`
	Version     int    `json:"version"`
}

type EntryData struct {
	Entry any `json:"entry"`
}

type ListData struct {
	List          any  `json:"list"`
	LimitExceeded bool `json:"limitExceeded"`
}

func ResponseCurrentTime(c clock.Clock) int64 {
	return c.NowUnixMilli()
}

func NewOKResponse(data any, c clock.Clock) ResponseModel {
	return ResponseModel{
		Code:        200,
		CurrentTime: ResponseCurrentTime(c),
		Data:        data,
		Text:        "OK",
		Version:     2,
	}
}

func NewEntryResponse(entry any, c clock.Clock) ResponseModel {
	return NewOKResponse(EntryData{Entry: entry}, c)
}

func NewListResponse(list any, limitExceeded bool, c clock.Clock) ResponseModel {
	return NewOKResponse(ListData{List: list, LimitExceeded: limitExceeded}, c)
}

type CurrentTimeData struct {
	CurrentTime  int64  `json:"currentTime"`
	ReadableTime string `json:"readableTime"`
}

// NewCurrentTimeData reports t in Singapore time.
func NewCurrentTimeData(t time.Time) CurrentTimeData {
	return CurrentTimeData{
		CurrentTime:  t.UnixMilli(),
		ReadableTime: t.In(clock.Singapore).Format(time.RFC3339),
	}
}
