package watcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/alanmeadows/mrwatch/internal/notify"
	"github.com/alanmeadows/mrwatch/internal/provider"
	"github.com/alanmeadows/mrwatch/internal/provider/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingNotifier) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

var mr42 = provider.MergeRequest{ID: 9042, IID: 42, Project: "7", Title: "Fix flaky test", WebURL: "https://gitlab.example.com/g/p/-/merge_requests/42"}

func newDispatcher(backend provider.Backend, n, rebuilds notify.Notifier) *Dispatcher {
	return &Dispatcher{
		Backend:        backend,
		Notifier:       n,
		Rebuilds:       rebuilds,
		FailureMarkers: []string{"Build failed", "Build aborted"},
		RebuildComment: "#ci rebuild",
	}
}

func TestDispatchFailureTriggersRebuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().PostNote(gomock.Any(), &mr42, "#ci rebuild").Return(nil).Times(1)

	n, r := &recordingNotifier{}, &recordingNotifier{}
	mr := mr42
	err := newDispatcher(backend, n, r).Dispatch(context.Background(), &mr, false,
		ciNote(1, "Build failed: [pipeline #811](https://ci.example.com/811)"))
	require.NoError(t, err)

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.EventCIComment, msgs[0].Event)
	assert.Equal(t, "MR 42", msgs[0].Title)
	assert.Equal(t, "pipeline #811", msgs[0].Body)
	assert.Equal(t, mr42.WebURL, msgs[0].URL)

	rebuilds := r.messages()
	require.Len(t, rebuilds, 1)
	assert.Equal(t, notify.EventRebuildTriggered, rebuilds[0].Event)
}

func TestDispatchSkipRebuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	// No PostNote expectation: any call fails the test.

	n := &recordingNotifier{}
	mr := mr42
	err := newDispatcher(backend, n, nil).Dispatch(context.Background(), &mr, true, ciNote(1, "Build aborted"))
	require.NoError(t, err)
	assert.Len(t, n.messages(), 1)
}

func TestDispatchNonFailureDoesNotRebuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)

	n := &recordingNotifier{}
	mr := mr42
	err := newDispatcher(backend, n, nil).Dispatch(context.Background(), &mr, false, ciNote(1, "Build succeeded"))
	require.NoError(t, err)

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Build succeeded", msgs[0].Body, "plain text fallback without a link")
}

func TestDispatchPostFailureIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().PostNote(gomock.Any(), gomock.Any(), "#ci rebuild").
		Return(errors.New("403 Forbidden")).Times(1)

	n, r := &recordingNotifier{}, &recordingNotifier{}
	mr := mr42
	err := newDispatcher(backend, n, r).Dispatch(context.Background(), &mr, false, ciNote(1, "Build failed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 Forbidden")

	assert.Len(t, n.messages(), 1, "the comment notification is still sent once")
	rebuilds := r.messages()
	require.Len(t, rebuilds, 1)
	assert.Equal(t, notify.EventRebuildFailed, rebuilds[0].Event)
	assert.Contains(t, rebuilds[0].Error, "403 Forbidden")
}

func TestDispatchNotifierFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().PostNote(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	n := &recordingNotifier{err: errors.New("no notification daemon")}
	mr := mr42
	err := newDispatcher(backend, n, nil).Dispatch(context.Background(), &mr, false, ciNote(1, "Build failed"))
	assert.NoError(t, err)
}

// captureLog routes the default logger into a buffer for the rest of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func logLines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func TestDispatchLogsEachEventOnce(t *testing.T) {
	buf := captureLog(t)

	mr := mr42
	n := notify.Multi{notify.Log{}}
	require.NoError(t, newDispatcher(nil, n, nil).Dispatch(context.Background(), &mr, false, ciNote(1, "Build passed")))

	lines := logLines(buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "msg=notification")
	assert.Contains(t, lines[0], "event=ci_comment")
}

func TestDispatchNotifierFailureLoggedOnce(t *testing.T) {
	buf := captureLog(t)

	mr := mr42
	n := notify.Multi{&recordingNotifier{err: errors.New("no notification daemon")}}
	require.NoError(t, newDispatcher(nil, n, nil).Dispatch(context.Background(), &mr, false, ciNote(1, "Build passed")))

	lines := logLines(buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `msg="notification failed"`)
	assert.Contains(t, lines[0], "no notification daemon")
}

func TestIsFailure(t *testing.T) {
	d := newDispatcher(nil, nil, nil)
	assert.True(t, d.IsFailure("Build failed in 3m"))
	assert.True(t, d.IsFailure("**Build aborted** by admin"))
	assert.False(t, d.IsFailure("build failed"))
	assert.False(t, d.IsFailure("Build passed"))
}
