package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pkt.systems/snipline/schema"
)

type memLocal struct {
	mu   sync.Mutex
	list []schema.Shortcut
}

func (m *memLocal) Lookup(trigger string) (schema.Shortcut, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return schema.FindTrigger(m.list, trigger)
}

func (m *memLocal) Remember(sc schema.Shortcut) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, sc)
}

type fakeRemote struct {
	exact     *schema.Shortcut
	exactErr  error
	search    []schema.Shortcut
	searchErr error

	exactCalls  int
	searchCalls int
	lastQuery   string
}

func (f *fakeRemote) FindByTrigger(ctx context.Context, trigger string) (*schema.Shortcut, error) {
	f.exactCalls++
	return f.exact, f.exactErr
}

func (f *fakeRemote) SearchByText(ctx context.Context, query string) ([]schema.Shortcut, error) {
	f.searchCalls++
	f.lastQuery = query
	return f.search, f.searchErr
}

func active(id, trigger string) schema.Shortcut {
	return schema.Shortcut{ID: schema.ShortcutID(id), Trigger: trigger, Content: id, IsActive: true}
}

func TestLocalHitSkipsRemote(t *testing.T) {
	local := &memLocal{list: []schema.Shortcut{active("1", "//email")}}
	remote := &fakeRemote{}
	res, err := New(local, remote, "", nil).Resolve(context.Background(), "//email")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Tier != TierLocal || res.Shortcut.ID != "1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if remote.exactCalls != 0 || remote.searchCalls != 0 {
		t.Fatalf("expected no remote calls, got %d/%d", remote.exactCalls, remote.searchCalls)
	}
}

func TestInactiveLocalFallsThroughToRemoteExact(t *testing.T) {
	inactive := active("1", "//email")
	inactive.IsActive = false
	local := &memLocal{list: []schema.Shortcut{inactive}}
	fresh := active("2", "//email")
	remote := &fakeRemote{exact: &fresh}
	res, err := New(local, remote, "", nil).Resolve(context.Background(), "//email")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Tier != TierRemoteExact || res.Shortcut.ID != "2" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := local.Lookup("//email"); !ok {
		t.Fatalf("expected remote hit to be remembered locally")
	}
}

func TestInactiveRemoteResultsAreNeverOffered(t *testing.T) {
	inactive := active("1", "//email")
	inactive.IsActive = false
	remote := &fakeRemote{exact: &inactive, search: []schema.Shortcut{inactive}}
	_, err := New(&memLocal{}, remote, "", nil).Resolve(context.Background(), "//email")
	if !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTimeoutFallsThroughToSearch(t *testing.T) {
	remote := &fakeRemote{
		exactErr: schema.ErrChannelTimeout,
		search:   []schema.Shortcut{{ID: "x", IsActive: false}, active("3", "//email-long")},
	}
	res, err := New(&memLocal{}, remote, "//", nil).Resolve(context.Background(), "//email")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Tier != TierRemoteSearch || res.Shortcut.ID != "3" {
		t.Fatalf("unexpected result %+v", res)
	}
	if remote.lastQuery != "email" {
		t.Fatalf("expected sentinel stripped from query, got %q", remote.lastQuery)
	}
}

func TestNetworkErrorFallsThrough(t *testing.T) {
	remote := &fakeRemote{exactErr: schema.ErrNetwork, searchErr: schema.ErrNetwork}
	_, err := New(&memLocal{}, remote, "", nil).Resolve(context.Background(), "//email")
	if !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if remote.searchCalls != 1 {
		t.Fatalf("expected search tier to run, got %d calls", remote.searchCalls)
	}
}

func TestAuthErrorSkipsRemainingRemoteTiers(t *testing.T) {
	for _, cause := range []error{schema.ErrAuth, schema.ErrChannelInvalidated} {
		remote := &fakeRemote{exactErr: cause, search: []schema.Shortcut{active("3", "//x")}}
		_, err := New(&memLocal{}, remote, "", nil).Resolve(context.Background(), "//email")
		if !errors.Is(err, schema.ErrNotFound) {
			t.Fatalf("cause %v: expected ErrNotFound, got %v", cause, err)
		}
		if remote.searchCalls != 0 {
			t.Fatalf("cause %v: expected search to be skipped", cause)
		}
	}
}

func TestCanceledContextIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	remote := &fakeRemote{exactErr: context.Canceled}
	_, err := New(&memLocal{}, remote, "", nil).Resolve(ctx, "//email")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocalOnlyWithoutRemote(t *testing.T) {
	_, err := New(&memLocal{}, nil, "", nil).Resolve(context.Background(), "//email")
	if !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
