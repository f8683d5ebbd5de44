package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifficulty_EchoedLowercase(t *testing.T) {
	for _, in := range []string{"Easy", "EASY", " easy "} {
		d, err := ParseDifficulty(in)
		require.NoError(t, err, in)

		out, err := json.Marshal(MatchResult{Status: ResultMatched, RequesterID: "A", Difficulty: d})
		require.NoError(t, err)
		assert.Contains(t, string(out), `"difficulty":"easy"`, in)
	}

	_, err := ParseDifficulty("expert")
	assert.Error(t, err)
}

func TestDifficulty_Lower(t *testing.T) {
	assert.Equal(t, DifficultyMedium, DifficultyHard.Lower())
	assert.Equal(t, DifficultyEasy, DifficultyMedium.Lower())
	assert.Equal(t, DifficultyEasy, DifficultyEasy.Lower())
}

func TestControlMessage_Key(t *testing.T) {
	timeout := ControlMessage{Type: ControlTimeout, RequesterID: "A", RequestID: "r1", Generation: 2}
	assert.Equal(t, "timeout:r1:2", timeout.Key())

	confirm := ControlMessage{Type: ControlConfirmTimeout, RequesterID: "A", MatchID: "m1"}
	assert.Equal(t, "confirm_timeout:m1", confirm.Key())

	// requestId가 없으면 요청자로 구분한다
	a := ControlMessage{Type: ControlTimeout, RequesterID: "A"}
	b := ControlMessage{Type: ControlTimeout, RequesterID: "B"}
	assert.NotEqual(t, a.Key(), b.Key())
}
