// Package sender executes one OFD command with bounded latency. It adds a
// per-device reconnect throttle, a whole-exchange timeout, retries for
// transient network errors and a circuit breaker around a raw transport.
// Callers always receive a Result; errors never escape Send.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fiscal/internal/domain"
	"fiscal/internal/observability/metrics"
	"fiscal/internal/ofd"
)

type Status string

const (
	throttledReason   = "reconnect interval not elapsed"
	breakerOpenReason = "circuit breaker open"
)

const (
	StatusOK      Status = "OK"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
)

type Result struct {
	Status        Status
	ResultCode    *int
	ResponseToken string
	ReqNum        int
	FiscalSign    string
	ErrorMessage  string
}

// Replied reports whether OFD answered with a result code.
func (r Result) Replied() bool { return r.ResultCode != nil }

// NoReply is the result used when a command is deliberately not sent.
func NoReply(reason string) Result {
	return Result{Status: StatusTimeout, ErrorMessage: reason}
}

type Config struct {
	Endpoint          string
	ServiceID         string
	Timeout           time.Duration
	ReconnectInterval time.Duration
	RetryAttempts     int
	RetryBackoff      time.Duration
	Breaker           BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		Timeout:           10 * time.Second,
		ReconnectInterval: 60 * time.Second,
		RetryAttempts:     3,
		RetryBackoff:      500 * time.Millisecond,
		Breaker:           DefaultBreakerConfig(),
	}
}

type Sender struct {
	cfg       Config
	transport ofd.Transport
	codec     ofd.Codec
	breaker   *Breaker
	throttle  *Throttle
	log       *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Sender)

func WithClock(now func() time.Time) Option { return func(s *Sender) { s.now = now } }

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sender) { s.sleep = sleep }
}

func WithCodec(c ofd.Codec) Option { return func(s *Sender) { s.codec = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Sender) { s.log = l } }

func New(cfg Config, transport ofd.Transport, opts ...Option) *Sender {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	s := &Sender{
		cfg:       cfg,
		transport: transport,
		codec:     ofd.JSONCodec{},
		throttle:  NewThrottle(cfg.ReconnectInterval),
		log:       slog.Default(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	s.breaker = NewBreaker(cfg.Breaker, func(from, to BreakerState) {
		metrics.OFDBreakerState.Set(float64(to))
		s.log.Warn("ofd circuit breaker state changed", "endpoint", cfg.Endpoint, "from", from.String(), "to", to.String())
	})
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Sender) Breaker() *Breaker { return s.breaker }

func (s *Sender) Throttle() *Throttle { return s.throttle }

// RunThrottleSweeper evicts expired throttle entries until ctx is done.
func (s *Sender) RunThrottleSweeper(ctx context.Context) {
	s.throttle.Run(ctx, s.cfg.ReconnectInterval, s.now, func(n int) {
		metrics.OFDThrottledDevices.Set(float64(n))
	})
}

// Admit reports whether Send would contact OFD for the device now. When it
// would not, the returned Result is the one Send gives. No breaker slot is
// taken.
func (s *Sender) Admit(deviceID domain.DeviceID) (Result, bool) {
	now := s.now()
	if s.throttle.Blocked(deviceID, now) {
		return NoReply(throttledReason), false
	}
	if !s.breaker.Ready(now) {
		return Result{Status: StatusFailed, ErrorMessage: breakerOpenReason}, false
	}
	return Result{}, true
}

func (s *Sender) Send(ctx context.Context, cmd ofd.Command) Result {
	start := s.now()
	res := s.send(ctx, cmd, start)
	metrics.OFDSendTotal.WithLabelValues(string(res.Status)).Inc()
	metrics.OFDSendDurationSeconds.Observe(s.now().Sub(start).Seconds())
	return res
}

func (s *Sender) send(ctx context.Context, cmd ofd.Command, now time.Time) Result {
	log := s.log.With("device_id", cmd.DeviceID, "command", cmd.Type, "req_num", cmd.ReqNum)

	if s.throttle.Blocked(cmd.DeviceID, now) {
		log.Debug("ofd send throttled")
		return NoReply(throttledReason)
	}

	req, err := ofd.BuildRequest(s.cfg.ServiceID, cmd)
	if err != nil {
		return Result{Status: StatusFailed, ErrorMessage: err.Error()}
	}
	payload, err := s.codec.Encode(req)
	if err != nil {
		return Result{Status: StatusFailed, ErrorMessage: fmt.Sprintf("encode request: %v", err)}
	}

	if !s.breaker.Allow(now) {
		log.Debug("ofd circuit breaker open")
		return Result{Status: StatusFailed, ErrorMessage: breakerOpenReason}
	}

	tctx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	env, attempts, err := s.exchange(tctx, payload)
	if err != nil && ctx.Err() != nil {
		// The caller went away; neither the link nor OFD is at fault.
		s.breaker.Forget()
		log.Info("ofd exchange abandoned by caller", "attempts", attempts, "err", err)
		return Result{Status: StatusTimeout, ErrorMessage: err.Error()}
	}
	s.breaker.Record(s.now(), err == nil)

	if err != nil {
		s.throttle.Mark(cmd.DeviceID, s.now())
		status := StatusFailed
		if isTimeout(err) || tctx.Err() != nil {
			status = StatusTimeout
		}
		log.Warn("ofd exchange failed", "attempts", attempts, "status", status, "err", err)
		return Result{Status: status, ErrorMessage: err.Error()}
	}

	s.throttle.Clear(cmd.DeviceID)
	res := Result{
		Status:        StatusFailed,
		ResultCode:    env.ResultCode,
		ResponseToken: env.Token,
		ReqNum:        env.ReqNum,
		FiscalSign:    env.FiscalSign,
		ErrorMessage:  env.Message,
	}
	if *env.ResultCode == ofd.ResultOK {
		res.Status = StatusOK
		res.ErrorMessage = ""
	} else if res.ErrorMessage == "" {
		res.ErrorMessage = fmt.Sprintf("ofd rejected command with result code %d", *env.ResultCode)
	}
	log.Debug("ofd reply", "result_code", *env.ResultCode, "attempts", attempts)
	return res
}

// exchange performs up to RetryAttempts round trips, retrying only
// transient failures while ctx allows.
func (s *Sender) exchange(ctx context.Context, payload []byte) (ofd.Envelope, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		env, err := s.roundTrip(ctx, payload)
		if err == nil {
			return env, attempt, nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil || attempt == s.cfg.RetryAttempts {
			return ofd.Envelope{}, attempt, lastErr
		}
		if err := s.sleep(ctx, s.cfg.RetryBackoff); err != nil {
			return ofd.Envelope{}, attempt, err
		}
	}
	return ofd.Envelope{}, s.cfg.RetryAttempts, lastErr
}

func (s *Sender) roundTrip(ctx context.Context, payload []byte) (ofd.Envelope, error) {
	raw, err := s.transport.SendAndReceive(ctx, s.cfg.Endpoint, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ofd.Envelope{}, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return ofd.Envelope{}, err
	}
	env, err := s.codec.Decode(raw)
	if err != nil {
		return ofd.Envelope{}, err
	}
	if env.ResultCode == nil {
		return ofd.Envelope{}, errNoResultCode
	}
	return env, nil
}
