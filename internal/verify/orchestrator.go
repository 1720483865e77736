package verify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zombor/payment-verifier/internal/scanning"
)

// ImageInput is a picked receipt image awaiting recognition or upload.
type ImageInput struct {
	Data        []byte
	Filename    string
	ContentType string
}

// State is the single mutable verification state for a user session. It is
// owned exclusively by the Orchestrator; callers read snapshots and dispatch
// intents.
type State struct {
	Provider           Provider
	Reference          string
	Suffix             string
	Phone              string
	Image              *ImageInput
	RecognizedText     string
	ExtractedReference string
	Loading            bool
	Err                *Error
	Result             *NormalizedVerification
}

// LocalVerifier looks a transaction up directly at a provider's public
// receipt endpoint, bypassing the verification API. Used as a best-effort
// fallback when the API is unreachable.
type LocalVerifier interface {
	// Supports reports whether p has a public receipt endpoint.
	Supports(p Provider) bool

	// Lookup fetches and parses the receipt for reference.
	Lookup(ctx context.Context, p Provider, reference string) (map[string]any, error)
}

// Orchestrator owns the verification lifecycle: it sequences
// recognition, extraction, and network verification, supersedes in-flight
// work when a newer intent arrives, and guarantees stale results are never
// applied.
//
// Every asynchronous continuation captures the generation counter active when
// it was issued and compares it against the current one before touching
// state. A mismatch means the operation was superseded or cancelled, and the
// result is silently discarded. This is the invariant that makes Cancel and
// overlapping operations safe.
type Orchestrator struct {
	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc

	verifier   Verifier
	recognizer scanning.Recognizer
	history    HistoryStore
	local      LocalVerifier

	subs []chan State
}

// NewOrchestrator creates an Orchestrator. recognizer and history may be nil;
// image recognition and history recording are then disabled.
func NewOrchestrator(verifier Verifier, recognizer scanning.Recognizer, history HistoryStore) *Orchestrator {
	return &Orchestrator{
		verifier:   verifier,
		recognizer: recognizer,
		history:    history,
		state:      State{Provider: ProviderTelebirr},
	}
}

// NewOrchestratorWithFallback additionally wires a LocalVerifier tried when
// the verification API fails transiently.
func NewOrchestratorWithFallback(verifier Verifier, recognizer scanning.Recognizer, history HistoryStore, local LocalVerifier) *Orchestrator {
	o := NewOrchestrator(verifier, recognizer, history)
	o.local = local
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe returns a channel receiving a state snapshot after every change.
// Slow subscribers miss intermediate snapshots rather than blocking the
// orchestrator. There is no unsubscribe: channels live as long as the
// orchestrator, which is scoped to a single user session.
func (o *Orchestrator) Subscribe() <-chan State {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan State, 16)
	o.subs = append(o.subs, ch)
	return ch
}

func (o *Orchestrator) publishLocked() {
	for _, ch := range o.subs {
		select {
		case ch <- o.state:
		default:
		}
	}
}

// SetProvider switches the active provider. Any prior result or error is
// stale once an input changes.
func (o *Orchestrator) SetProvider(p Provider) {
	o.setInput(func(s *State) { s.Provider = p })
}

// SetReference sets the typed transaction reference.
func (o *Orchestrator) SetReference(reference string) {
	o.setInput(func(s *State) { s.Reference = reference })
}

// SetSuffix sets the account suffix required by some providers.
func (o *Orchestrator) SetSuffix(suffix string) {
	o.setInput(func(s *State) { s.Suffix = suffix })
}

// SetPhone sets the phone number required by some providers.
func (o *Orchestrator) SetPhone(phone string) {
	o.setInput(func(s *State) { s.Phone = phone })
}

// SetImage stores a picked receipt image.
func (o *Orchestrator) SetImage(img ImageInput) {
	o.setInput(func(s *State) { s.Image = &img })
}

func (o *Orchestrator) setInput(mutate func(*State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mutate(&o.state)
	o.state.Err = nil
	o.state.Result = nil
	if o.state.Loading {
		// The in-flight operation was started from the old inputs; supersede
		// it so its late result is discarded on arrival.
		o.gen++
		if o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		o.state.Loading = false
	}
	o.publishLocked()
}

// beginLocked supersedes any in-flight operation and starts a new one:
// increments the generation, cancels the prior handle, and flips the state to
// loading. Caller must hold o.mu.
func (o *Orchestrator) beginLocked() (uint64, context.Context) {
	o.gen++
	if o.cancel != nil {
		o.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.state.Loading = true
	o.state.Err = nil
	o.state.Result = nil
	o.publishLocked()
	return o.gen, ctx
}

// apply mutates state only if gen is still current. Returns false when the
// result was stale and dropped.
func (o *Orchestrator) apply(gen uint64, mutate func(*State)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	mutate(&o.state)
	if !o.state.Loading && o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.publishLocked()
	return true
}

// VerifyByReference verifies the currently typed reference. Required fields
// are validated locally first; nothing is sent when validation fails.
func (o *Orchestrator) VerifyByReference() {
	o.mu.Lock()
	req := ReferenceRequest{
		Provider:  o.state.Provider,
		Reference: o.state.Reference,
		Suffix:    o.state.Suffix,
		Phone:     o.state.Phone,
	}
	if verr := req.Provider.ValidateInputs(req.Reference, req.Suffix, req.Phone); verr != nil {
		o.state.Err = verr
		o.state.Result = nil
		o.publishLocked()
		o.mu.Unlock()
		return
	}
	gen, ctx := o.beginLocked()
	o.mu.Unlock()

	go o.runReferenceVerification(ctx, gen, req)
}

// RunOCRAndVerify recognizes text in the image, extracts a reference, and
// chains straight into reference verification. When no reference can be
// extracted the attempt fails, leaving upload as the user's next move.
func (o *Orchestrator) RunOCRAndVerify(img ImageInput) {
	o.mu.Lock()
	if o.recognizer == nil {
		o.state.Err = &Error{Kind: KindValidation, Message: "Text recognition is not available"}
		o.state.Result = nil
		o.publishLocked()
		o.mu.Unlock()
		return
	}
	o.state.Image = &img
	o.state.RecognizedText = ""
	o.state.ExtractedReference = ""
	gen, ctx := o.beginLocked()
	o.mu.Unlock()

	go o.runRecognition(ctx, gen, img)
}

// UploadFallback verifies by submitting the picked receipt image itself.
// Only providers with upload support accept it.
func (o *Orchestrator) UploadFallback() {
	o.mu.Lock()
	p := o.state.Provider
	if !p.SupportsUpload() {
		o.failLocked(&Error{Kind: KindValidation, Field: "provider", Message: "Receipt upload is not available for " + p.Label()})
		o.mu.Unlock()
		return
	}
	if o.state.Image == nil {
		o.failLocked(&Error{Kind: KindValidation, Field: "image", Message: "Pick a receipt image first"})
		o.mu.Unlock()
		return
	}
	if providerTable[p].NeedsSuffix && o.state.Suffix == "" {
		o.failLocked(&Error{Kind: KindValidation, Field: "suffix", Message: "Account suffix is required for " + p.Label()})
		o.mu.Unlock()
		return
	}
	req := ReceiptRequest{
		Provider:    p,
		Suffix:      o.state.Suffix,
		Image:       o.state.Image.Data,
		Filename:    o.state.Image.Filename,
		ContentType: o.state.Image.ContentType,
	}
	gen, ctx := o.beginLocked()
	o.mu.Unlock()

	go func() {
		raw, err := o.verifier.VerifyReceipt(ctx, req)
		if err != nil {
			o.finishFailure(gen, AsError(err))
			return
		}
		nv := buildResult(raw, req.Provider, "")
		o.finishSuccess(gen, nv, SourceUpload)
	}()
}

// Cancel aborts the in-flight operation, if any. The generation bump
// guarantees the late response is discarded when it eventually arrives.
// Cancelling when nothing is loading is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil && !o.state.Loading {
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	if o.state.Loading {
		o.state.Loading = false
		o.state.Err = &Error{Kind: KindCancelled, Message: "Cancelled"}
		o.publishLocked()
	}
}

// failLocked records a local failure without starting an operation. Caller
// must hold o.mu.
func (o *Orchestrator) failLocked(verr *Error) {
	o.state.Err = verr
	o.state.Result = nil
	o.publishLocked()
}

func (o *Orchestrator) runRecognition(ctx context.Context, gen uint64, img ImageInput) {
	text, err := o.recognizer.RecognizeText(ctx, img.Data, img.ContentType)
	if err != nil {
		verr := AsError(err)
		if verr.Kind == KindUnknown {
			verr = &Error{Kind: KindUnknown, Message: "Could not read the image. Try upload verification instead.", Detail: verr.Detail}
		}
		o.finishFailure(gen, verr)
		return
	}

	reference := ExtractReference(text)
	if reference == "" {
		o.apply(gen, func(s *State) {
			s.RecognizedText = text
			s.Loading = false
			s.Err = &Error{
				Kind:    KindExtraction,
				Message: "Could not find a transaction reference in the image. Enter it manually or upload the receipt.",
			}
		})
		return
	}

	// Record what was recognized, then chain into network verification on
	// the same generation so a supersede anywhere aborts the whole chain.
	var req ReferenceRequest
	proceed := false
	o.mu.Lock()
	if gen == o.gen {
		o.state.RecognizedText = text
		o.state.ExtractedReference = reference
		o.state.Reference = reference
		if verr := o.state.Provider.ValidateInputs(reference, o.state.Suffix, o.state.Phone); verr != nil {
			o.state.Loading = false
			o.state.Err = verr
		} else {
			req = ReferenceRequest{
				Provider:  o.state.Provider,
				Reference: reference,
				Suffix:    o.state.Suffix,
				Phone:     o.state.Phone,
			}
			proceed = true
		}
		o.publishLocked()
	}
	o.mu.Unlock()

	if proceed {
		o.runReferenceVerification(ctx, gen, req)
	}
}

func (o *Orchestrator) runReferenceVerification(ctx context.Context, gen uint64, req ReferenceRequest) {
	raw, err := o.verifier.VerifyReference(ctx, req)
	if err == nil {
		nv := buildResult(raw, req.Provider, req.Reference)
		o.finishSuccess(gen, nv, nv.Source)
		return
	}

	verr := AsError(err)
	if verr.Transient() && o.local != nil && o.local.Supports(req.Provider) {
		lraw, lerr := o.local.Lookup(ctx, req.Provider, req.Reference)
		if lerr == nil {
			nv := buildResult(lraw, req.Provider, req.Reference)
			nv.Source = SourceLocal
			nv.Confidence = ConfidenceMedium
			o.finishSuccess(gen, nv, SourceLocal)
			return
		}
		// A local failure never masks the upstream classification.
		slog.Debug("Local receipt lookup failed", "provider", req.Provider, "error", lerr)
	}
	o.finishFailure(gen, verr)
}

// buildResult normalizes a raw payload and fills in what the upstream left
// out.
func buildResult(raw map[string]any, p Provider, fallbackReference string) *NormalizedVerification {
	nv := Normalize(raw)
	nv.Provider = string(p)
	if nv.Reference == "" {
		nv.Reference = fallbackReference
	}
	if nv.Source == "" {
		nv.Source = SourceUpstream
	}
	if nv.Confidence == "" {
		nv.Confidence = ConfidenceHigh
	}
	return &nv
}

func (o *Orchestrator) finishSuccess(gen uint64, nv *NormalizedVerification, recordSource Source) {
	if !o.apply(gen, func(s *State) {
		s.Loading = false
		s.Err = nil
		s.Result = nv
	}) {
		return
	}
	if o.history == nil {
		return
	}
	record := NewRecord(nv, recordSource)
	go func() {
		// History is a side effect; its failure never alters the verdict.
		if err := o.history.Append(record); err != nil {
			slog.Warn("Failed to record verification history", "error", err)
		}
	}()
}

// finishFailure applies a classified failure, preserving the extracted
// reference and picked image so the user can correct and retry.
func (o *Orchestrator) finishFailure(gen uint64, verr *Error) {
	o.apply(gen, func(s *State) {
		s.Loading = false
		s.Err = verr
	})
}
