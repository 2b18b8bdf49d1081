package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/trigger"
	"github.com/compozy/autoflow/pkg/logger"
)

// Error taxonomy (router maps to HTTP)
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Result is transport-agnostic processing outcome; router translates to HTTP
type Result struct {
	Status  int
	Payload any
}

// Dispatcher fans an event out to matching workflows. *trigger.Service implements it.
type Dispatcher interface {
	Dispatch(
		ctx context.Context,
		triggerType core.TriggerType,
		key string,
		ownerID string,
		payload map[string]any,
	) (*trigger.Dispatch, error)
	Active(ctx context.Context, key string, ownerID string) (int, error)
}

type Options struct {
	MaxBody   int64
	DedupeTTL time.Duration
	Metrics   *Metrics
}

// Orchestrator coordinates reading, verification, idempotency and dispatch.
// The request body is fully consumed during processing.
type Orchestrator struct {
	disp      Dispatcher
	verifier  Verifier
	idem      Service
	metrics   *Metrics
	maxBody   int64
	dedupeTTL time.Duration
}

// NewOrchestrator creates a new orchestrator. A nil verifier accepts every
// request and a nil idempotency service disables dedupe.
func NewOrchestrator(disp Dispatcher, verifier Verifier, idem Service, opts Options) *Orchestrator {
	o := &Orchestrator{
		disp:      disp,
		verifier:  verifier,
		idem:      idem,
		metrics:   opts.Metrics,
		maxBody:   opts.MaxBody,
		dedupeTTL: opts.DedupeTTL,
	}
	if o.verifier == nil {
		o.verifier = noneVerifier{}
	}
	if o.maxBody <= 0 {
		o.maxBody = 1 << 20
	}
	if o.dedupeTTL <= 0 {
		o.dedupeTTL = 10 * time.Minute
	}
	return o
}

// Process runs the webhook pipeline for a routing key and request.
func (o *Orchestrator) Process(ctx context.Context, key string, ownerID string, r *http.Request) (Result, error) {
	start := time.Now()
	defer func() { o.metrics.ObserveOverall(ctx, key, time.Since(start)) }()
	log := logger.FromContext(ctx).With("key", key)
	ctx = logger.ContextWithLogger(ctx, log)
	body, err := ReadRawJSON(r.Body, o.maxBody)
	if err != nil {
		log.Warn("Invalid webhook body", "error", err)
		o.metrics.OnFailed(ctx, key, "bad_body")
		return Result{Status: http.StatusBadRequest}, errors.Join(ErrBadRequest, err)
	}
	o.metrics.OnReceived(ctx, key, len(body))
	if err := o.verifier.Verify(ctx, r, body); err != nil {
		log.Warn("Signature verification failed", "error", err)
		o.metrics.OnFailed(ctx, key, "unauthorized")
		return Result{Status: http.StatusUnauthorized}, ErrUnauthorized
	}
	reserved, res, err := o.checkIdempotency(ctx, key, r)
	if err != nil {
		return res, err
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("Failed to parse json", "error", err)
		o.metrics.OnFailed(ctx, key, "bad_body")
		o.releaseIdempotency(ctx, reserved)
		return Result{Status: http.StatusBadRequest}, errors.Join(ErrBadRequest, err)
	}
	dispatched, err := o.disp.Dispatch(ctx, core.TriggerWebhook, key, ownerID, payload)
	if err != nil {
		log.Error("Dispatch failed", "error", err)
		o.metrics.OnFailed(ctx, key, "dispatch")
		o.releaseIdempotency(ctx, reserved)
		return Result{Status: http.StatusInternalServerError}, err
	}
	o.metrics.OnTriggered(ctx, key, dispatched.Triggered)
	status := http.StatusAccepted
	if dispatched.Triggered == 0 {
		status = http.StatusOK
	}
	return Result{Status: status, Payload: map[string]any{
		"triggered": dispatched.Triggered,
		"received":  payload,
		"entry_ids": dispatched.EntryIDs,
	}}, nil
}

// checkIdempotency reserves the request's idempotency key and returns it, or
// "" when the request carries none.
func (o *Orchestrator) checkIdempotency(ctx context.Context, key string, r *http.Request) (string, Result, error) {
	if o.idem == nil {
		return "", Result{}, nil
	}
	log := logger.FromContext(ctx)
	idemKey, err := DeriveKey(r.Header)
	if err != nil {
		o.metrics.OnFailed(ctx, key, "bad_idempotency_key")
		return "", Result{Status: http.StatusBadRequest}, errors.Join(ErrBadRequest, err)
	}
	if idemKey == "" {
		return "", Result{}, nil
	}
	reserved := KeyWithNamespace(key, idemKey)
	if err := o.idem.CheckAndSet(ctx, reserved, o.dedupeTTL); err != nil {
		if errors.Is(err, ErrDuplicate) {
			log.Info("Duplicate webhook request", "idempotency_key", idemKey)
			o.metrics.OnDuplicate(ctx, key)
			return "", Result{Status: http.StatusConflict}, ErrDuplicate
		}
		log.Error("Idempotency check failed", "error", err)
		o.metrics.OnFailed(ctx, key, "idempotency")
		return "", Result{Status: http.StatusInternalServerError}, err
	}
	return reserved, Result{}, nil
}

// releaseIdempotency frees a reserved key after the request was rejected so the
// sender's retry is processed instead of reported as a duplicate.
func (o *Orchestrator) releaseIdempotency(ctx context.Context, reserved string) {
	if reserved == "" {
		return
	}
	if err := o.idem.Release(context.WithoutCancel(ctx), reserved); err != nil {
		logger.FromContext(ctx).Warn("Failed to release idempotency key", "error", err)
	}
}

// Diagnostics reports whether a routing key has at least one active subscriber.
func (o *Orchestrator) Diagnostics(ctx context.Context, key string, ownerID string) (map[string]any, error) {
	n, err := o.disp.Active(ctx, key, ownerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "active": n > 0, "workflows": n}, nil
}
