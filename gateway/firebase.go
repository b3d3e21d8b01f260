package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	iface "PassengerCounter/interface"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/r3labs/sse/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

const (
	TimeOutSeconds = 5
	reconnectDelay = 2 * time.Second
	maxEventBytes  = 1 << 20
)

// Firebase talks to a Firebase Realtime Database over its REST API.
// The home record holds passenger_count, entered, exited and door_status;
// audit entries are pushed under the logs path.
type Firebase struct {
	baseURL  string
	auth     string
	homePath string
	logsPath string
	client   *resty.Client
	// pause before an event stream is reopened
	retry time.Duration
	log   *zap.Logger
}

type FirebaseConfig struct {
	BaseURL  string
	Auth     string
	HomePath string
	LogsPath string
	Timeout  time.Duration
	// Retry is the reconnect delay of event streams
	Retry time.Duration
}

func NewFirebase(cfg FirebaseConfig, log *zap.Logger) *Firebase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = TimeOutSeconds * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = reconnectDelay
	}
	if cfg.HomePath == "" {
		cfg.HomePath = "home"
	}
	if cfg.LogsPath == "" {
		cfg.LogsPath = "logs"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Firebase{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		auth:     cfg.Auth,
		homePath: strings.Trim(cfg.HomePath, "/"),
		logsPath: strings.Trim(cfg.LogsPath, "/"),
		client:   resty.New().SetTimeout(cfg.Timeout),
		retry:    cfg.Retry,
		log:      log,
	}
}

func (f *Firebase) url(path string) string {
	return fmt.Sprintf("%s/%s.json", f.baseURL, strings.Trim(path, "/"))
}

func (f *Firebase) request(ctx context.Context) *resty.Request {
	req := f.client.R().SetContext(ctx)
	if f.auth != "" {
		req.SetQueryParam("auth", f.auth)
	}
	return req
}

func (f *Firebase) ReadSnapshot(ctx context.Context) (iface.Snapshot, error) {
	resp, err := f.request(ctx).Get(f.url(f.homePath))
	if err != nil {
		return iface.Snapshot{}, errors.Wrap(err, "can't read snapshot")
	}
	if resp.IsError() {
		return iface.Snapshot{}, errors.Errorf("read snapshot: server returned %s", resp.Status())
	}
	// A missing record or field reads as zero.
	count := gjson.GetBytes(resp.Body(), "passenger_count")
	return iface.Snapshot{PassengerCount: int(count.Int())}, nil
}

func (f *Firebase) Update(ctx context.Context, fields map[string]any) error {
	resp, err := f.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(fields).
		Patch(f.url(f.homePath))
	if err != nil {
		return errors.Wrap(err, "can't update record")
	}
	if resp.IsError() {
		return errors.Errorf("update: server returned %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

func (f *Firebase) AppendLog(ctx context.Context, entry iface.LogEntry) error {
	var created struct {
		Name string `json:"name"`
	}
	resp, err := f.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(entry).
		SetResult(&created).
		Post(f.url(f.logsPath))
	if err != nil {
		return errors.Wrap(err, "can't append log")
	}
	if resp.IsError() {
		return errors.Errorf("append log: server returned %s, body: %s", resp.Status(), resp.String())
	}
	f.log.Debug("log appended", zap.String("key", created.Name))
	return nil
}

// Subscribe follows put/patch events on path until ctx is cancelled. The
// channel is returned at once; the stream is opened in the background and
// reopened whenever the server is unreachable or drops it.
func (f *Firebase) Subscribe(ctx context.Context, path string) (<-chan iface.ChangeEvent, error) {
	out := make(chan iface.ChangeEvent, 8)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				f.log.Error(fmt.Sprintf("event stream panic recovered: %v", r), zap.String("path", path))
			}
		}()
		client := f.streamClient(path)
		for {
			err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
				f.forward(ctx, msg, out)
			})
			if ctx.Err() != nil {
				return
			}
			f.log.Info("event stream ended, reopening", zap.String("path", path), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.retry):
			}
		}
	}()
	return out, nil
}

func (f *Firebase) streamClient(path string) *sse.Client {
	u := f.url(path)
	if f.auth != "" {
		u += "?" + url.Values{"auth": {f.auth}}.Encode()
	}
	client := sse.NewClient(u, sse.ClientMaxBufferSize(maxEventBytes))
	client.ReconnectStrategy = backoff.NewConstantBackOff(f.retry)
	client.ReconnectNotify = func(err error, next time.Duration) {
		f.log.Warn("event stream unavailable", zap.String("path", path), zap.Duration("retry", next), zap.Error(err))
	}
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		_ = resp.Body.Close()
		return errors.Errorf("subscribe %s: server returned %s", path, resp.Status)
	}
	return client
}

// forward passes data changes on. Keep-alive and everything else is skipped.
func (f *Firebase) forward(ctx context.Context, msg *sse.Event, out chan<- iface.ChangeEvent) {
	event := string(msg.Event)
	ev, ok := decodeEvent(event, string(msg.Data))
	if !ok {
		if event == "cancel" || event == "auth_revoked" {
			f.log.Warn("event stream closed by server", zap.String("event", event))
		}
		return
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func decodeEvent(event, data string) (iface.ChangeEvent, bool) {
	if event != "put" && event != "patch" {
		return iface.ChangeEvent{}, false
	}
	if !gjson.Valid(data) {
		return iface.ChangeEvent{}, false
	}
	parsed := gjson.Parse(data)
	path := parsed.Get("path")
	if !path.Exists() {
		return iface.ChangeEvent{}, false
	}
	return iface.ChangeEvent{
		Path: path.String(),
		Data: []byte(parsed.Get("data").Raw),
	}, true
}
