package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buszy.nrfz.sg/internal/models"
)

func TestSendResponse(t *testing.T) {
	api := createTestApi(t)

	t.Run("sends valid JSON response", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		response := models.ResponseModel{
			Code:        http.StatusOK,
			CurrentTime: 1234567890,
			Text:        "OK",
			Version:     2,
			Data:        map[string]string{"test": "data"},
		}

		api.sendResponse(w, r, response)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var decoded models.ResponseModel
		err := json.NewDecoder(w.Body).Decode(&decoded)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, decoded.Code)
		assert.Equal(t, "OK", decoded.Text)
		assert.Equal(t, 2, decoded.Version)
	})

	t.Run("sends response with nil data", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		response := models.ResponseModel{
			Code:        http.StatusNoContent,
			CurrentTime: 1234567890,
			Text:        "No Content",
			Version:     2,
			Data:        nil,
		}

		api.sendResponse(w, r, response)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var decoded models.ResponseModel
		err := json.NewDecoder(w.Body).Decode(&decoded)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, decoded.Code)
		assert.Equal(t, "No Content", decoded.Text)
	})
}

func TestSendNotFound(t *testing.T) {
	api := createTestApi(t)

	t.Run("sends 404 not found response", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		api.sendNotFound(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response models.ResponseModel
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNotFound, response.Code)
		assert.Equal(t, "resource not found", response.Text)
		assert.Equal(t, 2, response.Version)
	})

	t.Run("verifies response structure", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		api.sendNotFound(w, r)

		var response models.ResponseModel
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Greater(t, response.CurrentTime, int64(0), "CurrentTime should be set")
		assert.Nil(t, response.Data, "Data should be nil for not found")
	})
}

func TestSendUnauthorized(t *testing.T) {
	api := createTestApi(t)

	t.Run("sends 401 unauthorized response", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		api.sendUnauthorized(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response models.ResponseModel
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, response.Code)
		assert.Equal(t, "permission denied", response.Text)
		assert.Equal(t, 2, response.Version)
	})

	t.Run("verifies response structure", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/test", nil)

		api.sendUnauthorized(w, r)

		var response models.ResponseModel
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Greater(t, response.CurrentTime, int64(0), "CurrentTime should be set")
		assert.Nil(t, response.Data, "Data should be nil for unauthorized")
	})
}

func TestSetJSONResponseType(t *testing.T) {
	t.Run("sets JSON content type header", func(t *testing.T) {
		w := httptest.NewRecorder()
		var wInterface http.ResponseWriter = w

		setJSONResponseType(&wInterface)

		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("overwrites existing content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		w.Header().Set("Content-Type", "text/html")
		var wInterface http.ResponseWriter = w

		setJSONResponseType(&wInterface)

		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
}

func TestSendError(t *testing.T) {
	api := createTestApi(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)

	api.sendError(w, r, http.StatusConflict, "no bus stop selected")

	assert.Equal(t, http.StatusConflict, w.Code)
	var response models.ResponseModel
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, http.StatusConflict, response.Code)
	assert.Equal(t, "no bus stop selected", response.Text)
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		On bool `json:"on"`
	}
	tests := []struct {
		name    string
		input   string
		want    body
		wantErr bool
	}{
		{name: "valid", input: `{"on": true}`, want: body{On: true}},
		{name: "empty body keeps defaults", input: ``, want: body{On: true}},
		{name: "unknown field", input: `{"off": true}`, want: body{On: true}, wantErr: true},
		{name: "malformed", input: `{"on":`, want: body{On: true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.input))
			got := body{On: true}
			err := decodeJSON(r, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadBodyLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("a", maxBodyBytes+1)))
	_, err := readBody(r)
	assert.ErrorIs(t, err, errBodyTooLarge)

	r = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("{}"))
	data, err := readBody(r)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
