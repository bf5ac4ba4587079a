package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMatching(t *testing.T) {
	err := fmt.Errorf("join r1: %w", New(CodeRoomFull, "room r1 is full"))

	assert.True(t, errors.Is(err, ErrRoomFull))
	assert.False(t, errors.Is(err, ErrRoomNotFound))
	assert.Equal(t, CodeRoomFull, Code(err))
	assert.True(t, IsCode(err, CodeRoomFull))
	assert.Equal(t, "", Code(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeStoreWriteFailed, "put member")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[STORE_WRITE_FAILED] put member: connection refused", err.Error())
	assert.Equal(t, "[ROOM_NOT_FOUND] room not found", ErrRoomNotFound.Error())
}
