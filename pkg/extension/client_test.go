package extension_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/token-sidecar/pkg/extension"
	"github.com/Mindburn-Labs/token-sidecar/pkg/faults"
	"github.com/Mindburn-Labs/token-sidecar/pkg/runtimeenv"
)

const testExtensionID = "4e5b0c1a-ext"

// fakeLifecycleAPI emulates the host's Extensions API.
type fakeLifecycleAPI struct {
	mu           sync.Mutex
	registers    int
	registerName string
	registerBody string
	polls        int
	pollIDs      []string

	omitIdentifier bool
	// first N polls answer 500
	failPolls int
	// first N polls have their connection closed
	dropPolls int
	onPoll    func(n int)
}

func (f *fakeLifecycleAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/2020-01-01/extension/register":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.registers++
		f.registerName = r.Header.Get(extension.HeaderName)
		f.registerBody = string(body)
		f.mu.Unlock()

		if !f.omitIdentifier {
			w.Header().Set("lambda-extension-identifier", testExtensionID)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"functionName":"demo","functionVersion":"$LATEST","handler":"bootstrap"}`))

	case r.Method == http.MethodGet && r.URL.Path == "/2020-01-01/extension/event/next":
		f.mu.Lock()
		f.polls++
		n := f.polls
		f.pollIDs = append(f.pollIDs, r.Header.Get(extension.HeaderIdentifier))
		hook := f.onPoll
		f.mu.Unlock()

		if hook != nil {
			hook(n)
		}
		if n <= f.dropPolls {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
					return
				}
			}
		}
		if n <= f.failPolls {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"eventType":"INVOKE","requestId":"r-1"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeLifecycleAPI) snapshot() (registers, polls int, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registers, f.polls, append([]string(nil), f.pollIDs...)
}

func newTestClient(t *testing.T, api *fakeLifecycleAPI) (*extension.Client, *extension.Identity) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	origin := runtimeenv.NewOrigin(func(string) (string, bool) { return host, true })
	id := &extension.Identity{}
	return extension.NewClient("token-sidecar", origin, id), id
}

func TestRegister_StoresIdentity(t *testing.T) {
	api := &fakeLifecycleAPI{}
	client, id := newTestClient(t, api)

	require.NoError(t, client.Register(context.Background()))

	got, ok := id.Get()
	require.True(t, ok)
	assert.Equal(t, testExtensionID, got)
	assert.Equal(t, extension.Registered, client.State())

	api.mu.Lock()
	name, raw := api.registerName, api.registerBody
	api.mu.Unlock()
	assert.Equal(t, "token-sidecar", name)
	var body map[string][]string
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	assert.Equal(t, []string{"INVOKE"}, body["events"])
}

func TestRegister_TwiceFailsWithoutOverwrite(t *testing.T) {
	api := &fakeLifecycleAPI{}
	client, id := newTestClient(t, api)

	require.NoError(t, client.Register(context.Background()))
	err := client.Register(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, extension.ErrIdentityAlreadySet)
	assert.True(t, faults.IsFatal(err))

	got, _ := id.Get()
	assert.Equal(t, testExtensionID, got)
	registers, _, _ := api.snapshot()
	assert.Equal(t, 1, registers)
}

func TestRegister_MissingIdentifierIsFatal(t *testing.T) {
	api := &fakeLifecycleAPI{omitIdentifier: true}
	client, id := newTestClient(t, api)

	err := client.Register(context.Background())

	require.Error(t, err)
	assert.True(t, faults.IsFatal(err))
	assert.Contains(t, err.Error(), extension.HeaderIdentifier)
	_, ok := id.Get()
	assert.False(t, ok)
	assert.Equal(t, extension.Unregistered, client.State())
}

func TestRegister_TransportFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	origin := runtimeenv.NewOrigin(func(string) (string, bool) { return host, true })
	client := extension.NewClient("token-sidecar", origin, &extension.Identity{})

	err := client.Register(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsFatal(err))
}

func TestRegister_MissingOriginIsFatal(t *testing.T) {
	origin := runtimeenv.NewOrigin(func(string) (string, bool) { return "", false })
	client := extension.NewClient("token-sidecar", origin, &extension.Identity{})

	err := client.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, runtimeenv.ErrOriginNotConfigured)
	assert.True(t, faults.IsFatal(err))
}

func TestNext_RequiresRegistration(t *testing.T) {
	api := &fakeLifecycleAPI{}
	client, _ := newTestClient(t, api)

	err := client.Next(context.Background())

	assert.ErrorIs(t, err, extension.ErrNotRegistered)
	_, polls, _ := api.snapshot()
	assert.Zero(t, polls, "no request may reach the API without an identifier")
}

func TestNext_SendsRegisteredIdentity(t *testing.T) {
	api := &fakeLifecycleAPI{}
	client, _ := newTestClient(t, api)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx))
	require.NoError(t, client.Next(ctx))
	require.NoError(t, client.Next(ctx))

	_, polls, ids := api.snapshot()
	assert.Equal(t, 2, polls)
	assert.Equal(t, []string{testExtensionID, testExtensionID}, ids)
	assert.Equal(t, extension.Polling, client.State())
}

func TestNext_ServerErrorIsPollFault(t *testing.T) {
	api := &fakeLifecycleAPI{failPolls: 1}
	client, _ := newTestClient(t, api)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx))
	err := client.Next(ctx)

	require.Error(t, err)
	assert.Equal(t, faults.Poll, faults.KindOf(err))
	assert.False(t, faults.IsFatal(err))
}

// Failed polls, by status or by dropped connection, are followed by more polls.
func TestRun_KeepsPollingAfterFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	api := &fakeLifecycleAPI{dropPolls: 1, failPolls: 3}
	api.onPoll = func(n int) {
		if n >= 5 {
			cancel()
		}
	}
	client, _ := newTestClient(t, api)

	err := client.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	registers, polls, ids := api.snapshot()
	assert.Equal(t, 1, registers)
	assert.GreaterOrEqual(t, polls, 5)
	for _, id := range ids {
		assert.Equal(t, testExtensionID, id)
	}
}

func TestRun_RegistrationFailureStopsBeforePolling(t *testing.T) {
	api := &fakeLifecycleAPI{omitIdentifier: true}
	client, _ := newTestClient(t, api)

	err := client.Run(context.Background())

	assert.True(t, faults.IsFatal(err))
	_, polls, _ := api.snapshot()
	assert.Zero(t, polls)
}
