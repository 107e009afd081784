package mcperr_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/stretchr/testify/assert"
)

func TestMark(t *testing.T) {
	assert.NoError(t, mcperr.Mark(nil, mcperr.ErrSpawn))

	err := mcperr.Mark(errors.New("exec: not found"), mcperr.ErrSpawn)
	assert.True(t, errors.Is(err, mcperr.ErrSpawn))
	assert.False(t, errors.Is(err, mcperr.ErrHandshake))
	assert.Equal(t, "exec: not found", err.Error())

	wrapped := errors.WithMessage(err, "failed to start server")
	assert.True(t, errors.Is(wrapped, mcperr.ErrSpawn))

	nested := mcperr.Mark(mcperr.Mark(errors.New("timeout"), mcperr.ErrTimeout), mcperr.ErrToolCallTimeout)
	assert.True(t, errors.Is(nested, mcperr.ErrTimeout))
	assert.True(t, errors.Is(nested, mcperr.ErrToolCallTimeout))
}

func TestMark_Stdlib(t *testing.T) {
	kinds := []error{
		mcperr.ErrSpawn,
		mcperr.ErrHandshake,
		mcperr.ErrProtocolParse,
		mcperr.ErrProtocol,
		mcperr.ErrArgumentValidation,
		mcperr.ErrToolCallTimeout,
		mcperr.ErrSessionClosed,
		mcperr.ErrProcessCrashed,
		mcperr.ErrTurnLimitExceeded,
		mcperr.ErrCancelled,
		mcperr.ErrChannelClosed,
		mcperr.ErrNotFound,
		mcperr.ErrTimeout,
	}
	for _, kind := range kinds {
		err := mcperr.Mark(errors.Newf("server crm: %s", kind.Error()), kind)
		assert.True(t, stderrors.Is(err, kind), kind.Error())
		assert.ErrorIs(t, err, kind)
		assert.ErrorIs(t, fmt.Errorf("step: %w", err), kind)
		assert.ErrorIs(t, errors.WithMessage(err, "tools/call"), kind)
		assert.Equal(t, "server crm: "+kind.Error(), err.Error())

		for _, other := range kinds {
			if other != kind {
				assert.False(t, stderrors.Is(err, other), "%s is not %s", kind, other)
			}
		}
	}

	verr := mcperr.Mark(mcperr.NewValidationError("sendMoney", mcperr.Violation{Path: "amount", Message: "required"}), mcperr.ErrToolCallTimeout)
	var target *mcperr.ValidationError
	assert.True(t, stderrors.As(verr, &target))
	assert.ErrorIs(t, verr, mcperr.ErrArgumentValidation)

	perr := mcperr.Mark(&mcperr.ParseError{Frame: []byte("xyz"), Cause: errors.New("bad")}, mcperr.ErrProcessCrashed)
	assert.ErrorIs(t, perr, mcperr.ErrProtocolParse)
	assert.ErrorIs(t, perr, mcperr.ErrProcessCrashed)

	assert.True(t, mcperr.IsFatal(fmt.Errorf("run: %w", mcperr.Mark(errors.New("exit status 3"), mcperr.ErrProcessCrashed))))
	assert.False(t, mcperr.IsFatal(mcperr.Mark(errors.New("deadline"), mcperr.ErrToolCallTimeout)))
}

func TestIsFatal(t *testing.T) {
	tcases := []struct {
		err   error
		fatal bool
	}{
		{mcperr.ErrSessionClosed, true},
		{mcperr.ErrProcessCrashed, true},
		{mcperr.ErrTurnLimitExceeded, true},
		{mcperr.ErrCancelled, true},
		{errors.WithMessage(mcperr.ErrProcessCrashed, "tools/call"), true},
		{mcperr.ErrToolCallTimeout, false},
		{mcperr.ErrArgumentValidation, false},
		{mcperr.NewValidationError("sendMoney"), false},
		{errors.New("boom"), false},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.fatal, mcperr.IsFatal(tc.err), "%v", tc.err)
	}
}

func TestValidationError(t *testing.T) {
	err := mcperr.NewValidationError("sendMoney",
		mcperr.Violation{Path: "amount", Message: "expected number, got string"},
		mcperr.Violation{Path: "payeeId", Message: "required property is missing"},
	)
	assert.EqualError(t, err, `invalid arguments for tool "sendMoney": amount: expected number, got string; payeeId: required property is missing`)
	assert.True(t, errors.Is(err, mcperr.ErrArgumentValidation))
	assert.Equal(t, []string{"amount", "payeeId"}, err.Fields())

	var target *mcperr.ValidationError
	wrapped := errors.WithMessage(err, "step")
	assert.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Violations, 2)

	assert.Equal(t, "root", mcperr.Violation{Message: "root"}.String())
}

func TestParseError(t *testing.T) {
	cause := errors.New("invalid character 'x'")
	err := &mcperr.ParseError{Frame: []byte("xyz"), Cause: cause}
	assert.True(t, errors.Is(err, mcperr.ErrProtocolParse))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), `"xyz"`)

	long := &mcperr.ParseError{Frame: make([]byte, 100), Cause: cause}
	assert.Contains(t, long.Error(), "...")
}
