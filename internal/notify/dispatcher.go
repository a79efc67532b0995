package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/metrics"
	"buszy.nrfz.sg/internal/models"
)

const (
	DefaultIcon           = "/img/core-img/icon-192.png"
	DefaultBadge          = "/img/core-img/icon-192.png"
	DefaultTag            = "notification"
	DefaultErrorCooldown  = 5 * time.Second
	DefaultOnlineDebounce = time.Second

	connectionLostTitle = "Network connection lost"
)

// Delivery reports what Notify did beyond showing the toast.
type Delivery string

const (
	DeliveryWorker     Delivery = "worker"
	DeliveryDirect     Delivery = "direct"
	DeliveryQueued     Delivery = "queued"
	DeliverySuppressed Delivery = "suppressed"
	DeliveryToastOnly  Delivery = "toast"
	// DeliveryPending means the notification waits on a permission prompt
	// and is delivered only if the page grants it.
	DeliveryPending Delivery = "pending"
)

// WorkerLink is the dispatcher's view of the background worker.
type WorkerLink interface {
	Controls(clientID string) bool
	Post(msg models.Message) error
}

// Config wires a Dispatcher. Only Queue is required.
type Config struct {
	ClientID       string
	Clock          clock.Clock
	Queue          Queue
	Worker         WorkerLink
	Broker         PermissionBroker
	Permission     Permission
	Offline        bool
	ErrorCooldown  time.Duration
	OnlineDebounce time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger

	OnToast   func(Toast)
	OnDismiss func(id string)
	// OnDirect shows a notification in the page itself, used when the
	// worker does not control the page.
	OnDirect func(title string, opts models.NotificationOptions)
}

// Dispatcher is the single entry point for user-facing notifications of one
// page session.
type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	toasts  *ToastBoard
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	online     bool
	lastChange time.Time
	permission Permission
	asked      bool
	prompt     chan struct{}
	closed     bool
}

func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = DefaultErrorCooldown
	}
	if cfg.OnlineDebounce <= 0 {
		cfg.OnlineDebounce = DefaultOnlineDebounce
	}
	if cfg.Permission == "" {
		cfg.Permission = PermissionDefault
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		logger:     cfg.Logger.With(slog.String("component", "notification_dispatcher")),
		toasts:     NewToastBoard(cfg.Clock, cfg.OnToast, cfg.OnDismiss),
		limiter:    rate.NewLimiter(rate.Every(cfg.ErrorCooldown), 1),
		online:     !cfg.Offline,
		permission: cfg.Permission,
	}
}

// Notify shows a toast for title and, depending on connectivity and
// permission, delivers a system notification or queues it. Alert severity
// is limited to one per cooldown window; extra alerts are dropped entirely.
func (d *Dispatcher) Notify(ctx context.Context, title string, opts models.NotificationOptions, sev Severity) Delivery {
	if !sev.Valid() {
		sev = SeverityInfo
	}
	if sev == SeverityAlert && !d.limiter.AllowN(d.cfg.Clock.Now(), 1) {
		d.logger.Debug("alert on cooldown", slog.String("title", title))
		d.cfg.Metrics.ObserveNotification("suppressed", string(sev))
		return DeliverySuppressed
	}

	opts = mergeOptions(opts, sev)
	d.toasts.Show(title, sev, time.Duration(opts.Duration)*time.Millisecond, opts.Color)
	d.cfg.Metrics.ObserveNotification("toast", string(sev))

	if !d.Online() {
		d.enqueue(ctx, title, opts, sev)
		return DeliveryQueued
	}

	switch d.Permission() {
	case PermissionGranted:
		return d.push(title, opts, sev)
	case PermissionDefault:
		if d.deliverAfterPrompt(title, opts, sev) {
			return DeliveryPending
		}
	}
	d.cfg.Metrics.ObserveNotification("skipped", string(sev))
	return DeliveryToastOnly
}

// deliverAfterPrompt asks for permission in the background and pushes the
// notification once it is granted. Callers never wait on the page. It
// reports false when no prompt can be made.
func (d *Dispatcher) deliverAfterPrompt(title string, opts models.NotificationOptions, sev Severity) bool {
	d.mu.Lock()
	if d.closed || d.cfg.Broker == nil || (d.asked && d.prompt == nil) {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if d.RequestPermission(d.ctx) != PermissionGranted {
			d.cfg.Metrics.ObserveNotification("skipped", string(sev))
			return
		}
		d.push(title, opts, sev)
	}()
	return true
}

// Toast shows an in-page message without any system notification.
func (d *Dispatcher) Toast(message string, sev Severity) Toast {
	d.cfg.Metrics.ObserveNotification("toast", string(sev))
	return d.toasts.Show(message, sev, 0, "")
}

// Alert shows an alert toast under the same cooldown as alert
// notifications. It reports whether the toast was shown.
func (d *Dispatcher) Alert(message string) bool {
	if !d.limiter.AllowN(d.cfg.Clock.Now(), 1) {
		d.cfg.Metrics.ObserveNotification("suppressed", string(SeverityAlert))
		return false
	}
	d.Toast(message, SeverityAlert)
	return true
}

// Toasts returns the visible toasts.
func (d *Dispatcher) Toasts() []Toast { return d.toasts.Active() }

// DismissToast removes a toast before its timer.
func (d *Dispatcher) DismissToast(id string) { d.toasts.Dismiss(id) }

func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// SetPermission records a permission reported by the page. A grant while
// online delivers anything still queued from an earlier offline period.
func (d *Dispatcher) SetPermission(p Permission) {
	d.mu.Lock()
	granted := p == PermissionGranted && d.permission != PermissionGranted
	d.permission = p
	online := d.online
	d.mu.Unlock()
	if granted && online {
		d.drain(d.ctx)
	}
}

// RequestPermission returns the current permission, asking the broker first
// if it is still default. The broker is asked at most once per dispatcher;
// callers arriving while that prompt is open wait for its answer.
func (d *Dispatcher) RequestPermission(ctx context.Context) Permission {
	d.mu.Lock()
	if d.permission != PermissionDefault || d.cfg.Broker == nil {
		p := d.permission
		d.mu.Unlock()
		return p
	}
	if d.asked {
		wait := d.prompt
		d.mu.Unlock()
		if wait != nil {
			select {
			case <-wait:
			case <-ctx.Done():
			}
		}
		return d.Permission()
	}
	d.asked = true
	wait := make(chan struct{})
	d.prompt = wait
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.prompt = nil
		d.mu.Unlock()
		close(wait)
	}()

	p, err := d.cfg.Broker.RequestPermission(ctx)
	if err != nil {
		logging.LogWarn(d.logger, "permission request failed", err)
		return d.Permission()
	}
	if _, ok := ParsePermission(string(p)); !ok {
		p = PermissionDefault
	}
	d.mu.Lock()
	if d.permission == PermissionDefault {
		d.permission = p
	}
	p = d.permission
	d.mu.Unlock()
	logging.LogOperation(d.logger, "permission_resolved", slog.String("permission", string(p)))
	return p
}

func (d *Dispatcher) Online() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

// SetOnline applies a connectivity change. Changes within the debounce
// window of the previous accepted change are ignored, as are changes that
// match the current state. It reports whether the change was applied.
func (d *Dispatcher) SetOnline(ctx context.Context, online bool) bool {
	now := d.cfg.Clock.Now()

	d.mu.Lock()
	if !d.lastChange.IsZero() && now.Sub(d.lastChange) < d.cfg.OnlineDebounce {
		d.mu.Unlock()
		return false
	}
	if d.online == online {
		d.mu.Unlock()
		return false
	}
	d.lastChange = now
	if online {
		d.online = true
		d.mu.Unlock()
		logging.LogOperation(d.logger, "online")
		d.drain(ctx)
		return true
	}
	d.mu.Unlock()

	// The connection-lost alert goes out before the state flips so it is
	// delivered rather than queued.
	d.Notify(ctx, connectionLostTitle, models.NotificationOptions{Duration: 4000}, SeverityAlert)

	d.mu.Lock()
	d.online = false
	d.mu.Unlock()
	logging.LogOperation(d.logger, "offline")
	return true
}

// Resume is called when the page becomes visible again. It clears the
// debounce window and re-applies the reported connectivity.
func (d *Dispatcher) Resume(ctx context.Context, online bool) {
	d.mu.Lock()
	d.lastChange = time.Time{}
	d.mu.Unlock()
	if online {
		d.SetOnline(ctx, true)
	}
}

// ClearByTag closes the system notifications carrying tag.
func (d *Dispatcher) ClearByTag(tag string) {
	if d.cfg.Worker == nil || !d.cfg.Worker.Controls(d.cfg.ClientID) {
		return
	}
	msg := models.Message{Type: models.MessageClearNotifications, ClientID: d.cfg.ClientID, Tag: tag}
	if err := d.cfg.Worker.Post(msg); err != nil {
		logging.LogWarn(d.logger, "clear notifications failed", err, slog.String("tag", tag))
	}
}

// QueueLen reports the number of notifications waiting for connectivity.
func (d *Dispatcher) QueueLen(ctx context.Context) int {
	n, err := d.cfg.Queue.Len(ctx)
	if err != nil {
		logging.LogWarn(d.logger, "queue length failed", err)
	}
	return n
}

// Close abandons open permission prompts, waits for their deliveries and
// stops pending toast timers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
	d.toasts.Close()
}

func (d *Dispatcher) enqueue(ctx context.Context, title string, opts models.NotificationOptions, sev Severity) {
	q := Queued{ID: uuid.NewString(), Title: title, Options: opts, Timestamp: d.cfg.Clock.Now()}
	if err := d.cfg.Queue.Append(ctx, q); err != nil {
		logging.LogError(d.logger, "queue notification failed", err, slog.String("title", title))
		return
	}
	d.cfg.Metrics.ObserveNotification("queued", string(sev))
	d.cfg.Metrics.AddQueued(1)
}

// drain delivers the offline queue in FIFO order. Without a grant the queue
// is left in storage for a later reconnect or grant.
func (d *Dispatcher) drain(ctx context.Context) {
	if d.Permission() != PermissionGranted {
		return
	}
	items, err := d.cfg.Queue.Drain(ctx)
	if err != nil {
		logging.LogError(d.logger, "drain notification queue failed", err)
		return
	}
	if len(items) == 0 {
		return
	}
	d.cfg.Metrics.AddQueued(-len(items))
	logging.LogOperation(d.logger, "queue_drained", slog.Int("count", len(items)))

	for _, item := range items {
		d.push(item.Title, item.Options, SeverityInfo)
	}
}

// push delivers through the worker when it controls this page, otherwise
// directly in the page.
func (d *Dispatcher) push(title string, opts models.NotificationOptions, sev Severity) Delivery {
	opts = withPushDefaults(opts)
	if d.cfg.Worker != nil && d.cfg.Worker.Controls(d.cfg.ClientID) {
		msg := models.Message{
			Type:     models.MessageShowNotification,
			ClientID: d.cfg.ClientID,
			Title:    title,
			Options:  &opts,
		}
		err := d.cfg.Worker.Post(msg)
		if err == nil {
			d.cfg.Metrics.ObserveNotification("worker", string(sev))
			return DeliveryWorker
		}
		logging.LogWarn(d.logger, "worker delivery failed, falling back to direct", err)
	}
	if d.cfg.OnDirect != nil {
		d.cfg.OnDirect(title, opts)
	}
	d.cfg.Metrics.ObserveNotification("direct", string(sev))
	return DeliveryDirect
}

// mergeOptions fills unset fields from the severity profile. Caller values win.
func mergeOptions(opts models.NotificationOptions, sev Severity) models.NotificationOptions {
	p := sev.profile()
	if opts.Priority == "" {
		opts.Priority = p.priority
	}
	if opts.Duration <= 0 {
		opts.Duration = int(p.duration / time.Millisecond)
	}
	if opts.Sound == "" {
		opts.Sound = p.sound
	}
	if opts.Vibration == nil && p.vibration != nil {
		opts.Vibration = append([]int(nil), p.vibration...)
	}
	if opts.Color == "" {
		opts.Color = p.color
	}
	return opts
}

func withPushDefaults(opts models.NotificationOptions) models.NotificationOptions {
	if opts.Icon == "" {
		opts.Icon = DefaultIcon
	}
	if opts.Badge == "" {
		opts.Badge = DefaultBadge
	}
	if opts.Tag == "" {
		opts.Tag = DefaultTag
	}
	opts.RequireInteraction = opts.RequireInteraction || opts.Priority == "high"
	return opts
}
