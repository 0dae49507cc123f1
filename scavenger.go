package selfservice

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-selfservice/scim"
)

const defaultScavengerInitialDelay = time.Minute

// ScavengeReport summarizes a single scavenger run
type ScavengeReport struct {
	Scanned int
	Expired int
	Purged  int
	Failed  int
}

// ScavengerTask removes expired one-time tokens, and the fields that
// belong to them, from every user that carries one
type ScavengerTask struct {
	users          UserService
	timeout        time.Duration
	urn            string
	tokenField     string
	fieldsToDelete []string
	initialDelay   time.Duration
	logger         Logger
	activity       ActivitySink

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ScavengerOption configures a ScavengerTask
type ScavengerOption func(*ScavengerTask)

// WithScavengerInitialDelay sets the delay before the first run
func WithScavengerInitialDelay(d time.Duration) ScavengerOption {
	return func(t *ScavengerTask) {
		if d >= 0 {
			t.initialDelay = d
		}
	}
}

// WithScavengerLogger sets the task logger
func WithScavengerLogger(logger Logger) ScavengerOption {
	return func(t *ScavengerTask) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithScavengerActivitySink records an event per purged user
func WithScavengerActivitySink(sink ActivitySink) ScavengerOption {
	return func(t *ScavengerTask) {
		t.activity = normalizeActivitySink(sink)
	}
}

// NewScavengerTask creates a task for the token stored in urn:tokenField.
// fieldsToDelete are extra extension fields removed with the token.
func NewScavengerTask(users UserService, timeout time.Duration, urn, tokenField string, fieldsToDelete []string, opts ...ScavengerOption) *ScavengerTask {
	t := &ScavengerTask{
		users:        users,
		timeout:      timeout,
		urn:          urn,
		tokenField:   tokenField,
		initialDelay: defaultScavengerInitialDelay,
		logger:       defLogger{},
		activity:     noopActivitySink{},
	}

	for _, field := range fieldsToDelete {
		if field = strings.TrimSpace(field); field != "" {
			t.fieldsToDelete = append(t.fieldsToDelete, field)
		}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

// Run purges expired tokens once. Search failures abort the run, update
// failures are logged and retried on the next run.
func (t *ScavengerTask) Run(ctx context.Context) (ScavengeReport, error) {
	report := ScavengeReport{}

	users, err := t.users.SearchAllUsers(ctx, scim.Query{
		Filter: scim.PresentFilter(scim.ExtensionPath(t.urn, t.tokenField)),
	})
	if err != nil {
		if scim.IsUnauthorized(err) {
			t.logger.Error("scavenger credentials rejected by identity server", "field", t.tokenField, "error", err)
		} else {
			t.logger.Warn("scavenger could not search users", "field", t.tokenField, "error", err)
		}
		return report, goerrors.Wrap(err, goerrors.CategoryOperation, "scavenger search failed").
			WithMetadata(map[string]any{"field": t.tokenField})
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		report.Scanned++

		ext, ok := user.Extension(t.urn)
		if !ok {
			continue
		}

		stored, ok := ext.FieldAsString(t.tokenField)
		if !ok {
			continue
		}

		if !ParseOneTimeToken(stored).IsExpired(t.timeout) {
			continue
		}
		report.Expired++

		if _, err := t.users.PatchUser(ctx, user.ID, t.buildPatch()); err != nil {
			report.Failed++
			t.logger.Warn("scavenger could not update user", "user_id", user.ID, "field", t.tokenField, "error", err)
			continue
		}
		report.Purged++

		recordActivity(ctx, t.activity, t.logger, ActivityEvent{
			EventType: ActivityEventTokenPurged,
			Actor:     ActorRef{ID: "scavenger", Type: ActorTypeSystem},
			UserID:    user.ID,
			Metadata: map[string]any{
				"field": t.tokenField,
			},
		})
	}

	if report.Expired > 0 {
		t.logger.Info("scavenger run finished",
			"field", t.tokenField,
			"scanned", report.Scanned,
			"purged", report.Purged,
			"failed", report.Failed,
		)
	}

	return report, nil
}

// buildPatch removes the token and every companion field. SCIM treats
// removing an absent attribute as a no-op.
func (t *ScavengerTask) buildPatch() *scim.PatchRequest {
	patch := scim.NewPatch().RemoveExtensionField(t.urn, t.tokenField)
	for _, field := range t.fieldsToDelete {
		patch.RemoveExtensionField(t.urn, field)
	}
	return patch
}

// Start runs the task after the initial delay and then with a fixed delay
// equal to the token timeout, until ctx is done or Stop is called
func (t *ScavengerTask) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	go t.loop(ctx, t.done)
}

// Running reports whether the loop is active
func (t *ScavengerTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stop cancels the loop and waits for it to exit
func (t *ScavengerTask) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.running = false
	t.mu.Unlock()

	cancel()
	<-done
}

func (t *ScavengerTask) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		if t.done == done {
			t.running = false
			t.cancel()
		}
		t.mu.Unlock()
		close(done)
	}()

	interval := t.timeout
	if interval <= 0 {
		interval = time.Hour
	}

	timer := time.NewTimer(t.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.Run(ctx)
			timer.Reset(interval)
		}
	}
}
