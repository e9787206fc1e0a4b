package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/kart-io/statute-agent/pkg/errors"
)

func TestMakeAndParseCode(t *testing.T) {
	code := errors.MakeCode(errors.ServiceRetrieval, errors.CategoryUnprocessable, 1)
	assert.Equal(t, 2013001, code)

	svc, cat, seq := errors.ParseCode(code)
	assert.Equal(t, errors.ServiceRetrieval, svc)
	assert.Equal(t, errors.CategoryUnprocessable, cat)
	assert.Equal(t, 1, seq)
	assert.True(t, errors.IsClientError(code))
	assert.False(t, errors.IsServerError(code))
}

func TestErrno_WithCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := errors.ErrSearch.WithCause(cause)

	assert.True(t, stderrors.Is(err, errors.ErrSearch))
	assert.False(t, stderrors.Is(err, errors.ErrEmbedding))
	assert.Same(t, cause, stderrors.Unwrap(err))
	assert.Contains(t, err.Error(), "dial tcp")
	// the registered sentinel is untouched
	assert.Nil(t, errors.ErrSearch.Unwrap())
}

func TestErrno_WrappedChain(t *testing.T) {
	wrapped := fmt.Errorf("phase 1: %w", errors.ErrEmbedding.WithMessage("model offline"))

	assert.True(t, stderrors.Is(wrapped, errors.ErrEmbedding))
	assert.True(t, errors.IsCode(wrapped, errors.ErrEmbedding.Code))
	assert.Equal(t, errors.ErrEmbedding.Code, errors.GetCode(wrapped))

	e := errors.FromError(wrapped)
	require.NotNil(t, e)
	assert.Equal(t, "model offline", e.MessageEN)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, errors.FromError(nil))

	e := errors.FromError(fmt.Errorf("boom"))
	assert.Equal(t, errors.ErrInternal.Code, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())
	assert.Equal(t, -1, errors.GetCode(fmt.Errorf("plain")))
}

func TestErrno_Statuses(t *testing.T) {
	tests := []struct {
		name string
		err  *errors.Errno
		http int
		grpc codes.Code
	}{
		{"exhausted", errors.ErrRetrievalExhausted, http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{"not found", errors.ErrArtifactNotFound, http.StatusNotFound, codes.NotFound},
		{"invalid", errors.ErrRetrievalInvalidRequest, http.StatusBadRequest, codes.InvalidArgument},
		{"zero values", &errors.Errno{Code: 1}, http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.http, tt.err.HTTPStatus())
			assert.Equal(t, tt.grpc, tt.err.GRPCStatus())
		})
	}
}

func TestErrno_Message(t *testing.T) {
	assert.Equal(t, "Corpus fetch failed", errors.ErrCorpusFetch.Message("en"))
	assert.Equal(t, "فشل جلب المادة", errors.ErrCorpusFetch.Message("ar"))
	assert.Equal(t, "x", (&errors.Errno{MessageEN: "x"}).Message("ar"))
}

func TestRegister_Duplicate(t *testing.T) {
	code := errors.MakeCode(99, errors.CategoryInternal, 999)
	errors.Register(errors.New(code, 500, codes.Internal, "first", ""))

	got, ok := errors.Lookup(code)
	require.True(t, ok)
	assert.Equal(t, "first", got.MessageEN)

	assert.Panics(t, func() {
		errors.Register(errors.New(code, 500, codes.Internal, "second", ""))
	})
}

func TestErrno_Format(t *testing.T) {
	err := errors.ErrTimeout.WithCause(fmt.Errorf("deadline"))
	out := fmt.Sprintf("%+v", err)
	assert.Contains(t, out, "HTTP 504")
	assert.Contains(t, out, "caused by: deadline")
	assert.Equal(t, err.Error(), fmt.Sprintf("%s", err))
}
