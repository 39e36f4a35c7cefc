package linking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linkpost-app/linkpost/backend/internal/models"
)

type fakePopup struct {
	mu     sync.Mutex
	closed bool
}

func (p *fakePopup) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePopup) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

type fakeOpener struct {
	popup   *fakePopup
	blocked bool
	gotURL  string
}

func (o *fakeOpener) Open(url string) (Popup, error) {
	o.gotURL = url
	if o.blocked {
		return nil, fmt.Errorf("blocked by browser")
	}
	return o.popup, nil
}

type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	saveErr  error
	saveSkip bool // simulate a write that silently does not land
	saves    int
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{users: map[string]*models.User{}}
	for _, id := range ids {
		s.users[id] = &models.User{
			ID:                id,
			ConnectedAccounts: map[string]models.ConnectedAccount{},
		}
	}
	return s
}

func (s *memStore) SaveConnection(ctx context.Context, userID, provider string, account models.ConnectedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saveSkip {
		return nil
	}
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.ConnectedAccounts[provider] = account
	return nil
}

func (s *memStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	copied := *u
	copied.ConnectedAccounts = map[string]models.ConnectedAccount{}
	for k, v := range u.ConnectedAccounts {
		copied.ConnectedAccounts[k] = v
	}
	return &copied, nil
}

func newTestCoordinator(store AccountStore, opener Opener, msgs <-chan []byte) *Coordinator {
	return &Coordinator{
		Provider:     "linkedin",
		UserID:       "u1",
		StartAuth:    func(ctx context.Context) (string, error) { return "https://provider.example/authorize?state=s", nil },
		Opener:       opener,
		Store:        store,
		Messages:     msgs,
		Timeout:      300 * time.Millisecond,
		CloseGrace:   60 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestRun_SuccessRoundTrip(t *testing.T) {
	store := newMemStore("u1")
	opener := &fakeOpener{popup: &fakePopup{}}
	msgs := make(chan []byte, 4)

	c := newTestCoordinator(store, opener, msgs)

	msgs <- []byte(`{"success":true,"provider":"linkedin","accessToken":"tok-1","refreshToken":"rt-1","expiresIn":5184000,"scope":"openid profile email","email":"jamie@example.com","profile":{"id":"person-9","name":"Jamie","email":"jamie@example.com"}}`)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s (err=%v)", res.State, res.Err)
	}
	if res.Account == nil || res.Account.AccessToken != "tok-1" {
		t.Fatalf("expected persisted account in result, got %#v", res.Account)
	}

	user, _ := store.GetUser(context.Background(), "u1")
	got := user.ConnectedAccounts["linkedin"]
	if !got.Connected || got.AccessToken != "tok-1" {
		t.Fatalf("connection not persisted: %#v", got)
	}
	if got.ProfileID == nil || *got.ProfileID != "person-9" {
		t.Fatalf("expected profileId person-9, got %#v", got.ProfileID)
	}
	if !opener.popup.Closed() {
		t.Fatalf("expected popup closed after terminal state")
	}
}

func TestRun_IgnoresNonOAuthMessages(t *testing.T) {
	store := newMemStore("u1")
	msgs := make(chan []byte, 4)
	c := newTestCoordinator(store, &fakeOpener{popup: &fakePopup{}}, msgs)

	msgs <- []byte(`{"source":"react-devtools-bridge","payload":{}}`)
	msgs <- []byte(`"just a string"`)
	msgs <- []byte(`{"success":true,"accessToken":"tok-2","profile":{"id":"p"}}`)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", res.State)
	}
}

func TestRun_ProviderErrorEnvelope(t *testing.T) {
	store := newMemStore("u1")
	msgs := make(chan []byte, 1)
	c := newTestCoordinator(store, &fakeOpener{popup: &fakePopup{}}, msgs)

	msgs <- []byte(`{"error":"access_denied","description":"the member declined"}`)

	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.State != StateFailed {
		t.Fatalf("expected failed, got %s", res.State)
	}
	if !strings.Contains(res.Err.Error(), "access_denied") {
		t.Fatalf("expected access_denied in error, got %v", res.Err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no persistence attempt, got %d saves", store.saves)
	}
}

func TestRun_PopupClosedIsCancelledAfterGrace(t *testing.T) {
	store := newMemStore("u1")
	popup := &fakePopup{}
	msgs := make(chan []byte)
	c := newTestCoordinator(store, &fakeOpener{popup: popup}, msgs)

	go func() {
		time.Sleep(30 * time.Millisecond)
		popup.Close()
	}()

	start := time.Now()
	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", res.State)
	}
	if !strings.Contains(res.Err.Error(), "cancelled") {
		t.Fatalf("expected cancelled message, got %v", res.Err)
	}
	// Grace must have elapsed before the cancel verdict.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("cancel verdict arrived before grace period: %s", elapsed)
	}
}

func TestRun_MessageDuringCloseGraceStillSucceeds(t *testing.T) {
	store := newMemStore("u1")
	popup := &fakePopup{}
	msgs := make(chan []byte, 1)
	c := newTestCoordinator(store, &fakeOpener{popup: popup}, msgs)

	// Popup closes first, message lands inside the grace window.
	popup.Close()
	go func() {
		time.Sleep(20 * time.Millisecond)
		msgs <- []byte(`{"success":true,"accessToken":"tok-3","profile":{"id":"p3"}}`)
	}()

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", res.State)
	}
}

func TestRun_Timeout(t *testing.T) {
	store := newMemStore("u1")
	msgs := make(chan []byte)
	c := newTestCoordinator(store, &fakeOpener{popup: &fakePopup{}}, msgs)
	c.Timeout = 50 * time.Millisecond

	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.State != StateTimedOut {
		t.Fatalf("expected timed_out, got %s", res.State)
	}
	if !strings.Contains(res.Err.Error(), "timeout") {
		t.Fatalf("expected timeout message, got %v", res.Err)
	}
}

func TestRun_PopupBlocked(t *testing.T) {
	store := newMemStore("u1")
	c := newTestCoordinator(store, &fakeOpener{blocked: true}, make(chan []byte))

	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.State != StateFailed || !strings.Contains(res.Err.Error(), "popup blocked") {
		t.Fatalf("expected popup blocked failure, got %s %v", res.State, res.Err)
	}
}

func TestRun_PersistVerificationFailure(t *testing.T) {
	store := newMemStore("u1")
	store.saveSkip = true // write reports success but never lands
	msgs := make(chan []byte, 1)
	c := newTestCoordinator(store, &fakeOpener{popup: &fakePopup{}}, msgs)

	msgs <- []byte(`{"success":true,"accessToken":"tok-4","profile":{"id":"p4"}}`)

	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.State != StateFailed || !strings.Contains(res.Err.Error(), "failed to persist") {
		t.Fatalf("expected persist failure, got %s %v", res.State, res.Err)
	}
}

func TestRun_SingleUse(t *testing.T) {
	store := newMemStore("u1")
	msgs := make(chan []byte, 1)
	c := newTestCoordinator(store, &fakeOpener{popup: &fakePopup{}}, msgs)
	msgs <- []byte(`{"success":true,"accessToken":"tok-5","profile":{"id":"p5"}}`)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to be rejected")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	if _, ok := DecodeEnvelope([]byte(`{"foo":"bar"}`)); ok {
		t.Fatalf("expected non-oauth message to be rejected")
	}
	if _, ok := DecodeEnvelope([]byte(`not json`)); ok {
		t.Fatalf("expected invalid json to be rejected")
	}
	env, ok := DecodeEnvelope([]byte(`{"error":"access_denied"}`))
	if !ok || env.Error != "access_denied" {
		t.Fatalf("expected error envelope, got ok=%v env=%#v", ok, env)
	}
	env, ok = DecodeEnvelope([]byte(`{"success":true,"accessToken":"t"}`))
	if !ok || !env.Success {
		t.Fatalf("expected success envelope, got ok=%v env=%#v", ok, env)
	}
	// success:false with no error is not a meaningful outcome
	if _, ok := DecodeEnvelope([]byte(`{"success":false}`)); ok {
		t.Fatalf("expected success:false without error to be rejected")
	}
}
