package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePasteClient struct {
	status int
	body   pasteServiceResponse
}

func (f *fakePasteClient) FetchPaste(ctx context.Context, pasteID string) (int, []byte, error) {
	b, _ := json.Marshal(f.body)
	return f.status, b, nil
}

type fakeRegistry struct {
	issued map[int64]string
}

func (f *fakeRegistry) Issue(uid int64) (string, error) {
	tok := fmt.Sprintf("tok-for-%d", uid)
	f.issued[uid] = tok
	return tok, nil
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{issued: make(map[int64]string)}
}

func TestGenerateTokenSuccess(t *testing.T) {
	paste := &fakePasteClient{status: http.StatusOK, body: pasteServiceResponse{
		Code:  http.StatusOK,
		Paste: Paste{User: PasteUser{UID: 42}, Data: "IkaPaintBoard"},
	}}
	reg := newFakeRegistry()
	iss := New(reg, paste, "IkaPaintBoard", nil)

	tok, err := iss.GenerateToken(context.Background(), 42, "paste-id")
	require.NoError(t, err)
	assert.Equal(t, reg.issued[42], tok)
}

func TestGenerateTokenPasteNotFound(t *testing.T) {
	paste := &fakePasteClient{status: http.StatusNotFound}
	iss := New(newFakeRegistry(), paste, "IkaPaintBoard", nil)

	_, err := iss.GenerateToken(context.Background(), 42, "paste-id")
	var issueErr *IssueError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, ErrPasteNotFound, issueErr.Type)
}

func TestGenerateTokenUIDMismatch(t *testing.T) {
	paste := &fakePasteClient{status: http.StatusOK, body: pasteServiceResponse{
		Code:  http.StatusOK,
		Paste: Paste{User: PasteUser{UID: 7}, Data: "IkaPaintBoard"},
	}}
	iss := New(newFakeRegistry(), paste, "IkaPaintBoard", nil)

	_, err := iss.GenerateToken(context.Background(), 42, "paste-id")
	var issueErr *IssueError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, ErrUIDMismatch, issueErr.Type)
}

func TestGenerateTokenContentMismatch(t *testing.T) {
	paste := &fakePasteClient{status: http.StatusOK, body: pasteServiceResponse{
		Code:  http.StatusOK,
		Paste: Paste{User: PasteUser{UID: 42}, Data: "something else"},
	}}
	iss := New(newFakeRegistry(), paste, "IkaPaintBoard", nil)

	_, err := iss.GenerateToken(context.Background(), 42, "paste-id")
	var issueErr *IssueError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, ErrContentMismatch, issueErr.Type)
}

func TestGenerateTokenUIDNotAllowed(t *testing.T) {
	max := int64(100)
	iss := New(newFakeRegistry(), &fakePasteClient{}, "IkaPaintBoard", &max)

	_, err := iss.GenerateToken(context.Background(), 200, "paste-id")
	var issueErr *IssueError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, ErrUIDNotAllowed, issueErr.Type)
}

func TestGenerateTokenGenericFailureOnNon200(t *testing.T) {
	paste := &fakePasteClient{status: http.StatusInternalServerError}
	iss := New(newFakeRegistry(), paste, "IkaPaintBoard", nil)

	_, err := iss.GenerateToken(context.Background(), 42, "paste-id")
	require.Error(t, err)
	var issueErr *IssueError
	assert.False(t, errors.As(err, &issueErr), "non-200 status collapses to a generic error, not a structured one")
}
