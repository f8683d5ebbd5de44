package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Difficulty 문제 난이도 (easy < medium < hard)
type Difficulty int

const (
	DifficultyEasy Difficulty = iota + 1
	DifficultyMedium
	DifficultyHard
)

var difficultyNames = map[Difficulty]string{
	DifficultyEasy:   "easy",
	DifficultyMedium: "medium",
	DifficultyHard:   "hard",
}

// ParseDifficulty 대소문자 구분 없이 난이도 파싱
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return DifficultyEasy, nil
	case "medium":
		return DifficultyMedium, nil
	case "hard":
		return DifficultyHard, nil
	}
	return 0, fmt.Errorf("unknown difficulty %q", s)
}

func (d Difficulty) String() string {
	if name, ok := difficultyNames[d]; ok {
		return name
	}
	return fmt.Sprintf("difficulty(%d)", int(d))
}

// Valid 정의된 난이도인지 확인
func (d Difficulty) Valid() bool {
	_, ok := difficultyNames[d]
	return ok
}

// Lower 한 단계 낮은 난이도 (easy는 그대로)
func (d Difficulty) Lower() Difficulty {
	if d <= DifficultyEasy {
		return DifficultyEasy
	}
	return d - 1
}

func (d Difficulty) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid difficulty %d", int(d))
	}
	return json.Marshal(d.String())
}

func (d *Difficulty) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDifficulty(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MatchRequest 매칭 풀에 대기 중인 요청. 엔진만 수정한다.
type MatchRequest struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requesterId"`
	Topic       string     `json:"topic"`
	Difficulty  Difficulty `json:"difficulty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	Deadline    time.Time  `json:"deadline"`
	Generation  int        `json:"generation"`
}

type ResultStatus string

const (
	ResultMatched   ResultStatus = "matched"
	ResultTimedOut  ResultStatus = "timed_out"
	ResultConfirmed ResultStatus = "confirmed"
	ResultDissolved ResultStatus = "dissolved"
	// ResultCancelled only resolves local waiters and is never sent to a notifier.
	ResultCancelled ResultStatus = "cancelled"
)

// MatchResult 요청자에게 전달되는 결과
type MatchResult struct {
	Status      ResultStatus `json:"status"`
	RequesterID string       `json:"requesterId"`
	PartnerID   string       `json:"partnerId,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	Difficulty  Difficulty   `json:"difficulty,omitempty"`
	MatchID     string       `json:"matchId,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

type QueueStatus string

const (
	QueueStatusWaiting  QueueStatus = "waiting"
	QueueStatusNotFound QueueStatus = "not_found"
)

// SubmitPayload HTTP 본문 및 큐 메시지 형식
type SubmitPayload struct {
	RequesterID string `json:"requesterId" binding:"required"`
	Topic       string `json:"topic" binding:"required"`
	Difficulty  string `json:"difficulty" binding:"required,difficulty"`
}

type ControlType string

const (
	ControlTimeout        ControlType = "timeout"
	ControlConfirmTimeout ControlType = "confirm_timeout"
)

// ControlMessage 지연 큐로 전달되는 내부 제어 메시지
type ControlMessage struct {
	Type        ControlType `json:"type"`
	RequesterID string      `json:"requesterId"`
	Generation  int         `json:"generation"`
	RequestID   string      `json:"requestId,omitempty"`
	MatchID     string      `json:"matchId,omitempty"`
}

// Key 스케줄 취소/중복 제거에 쓰이는 결정적 키
func (m ControlMessage) Key() string {
	if m.Type == ControlConfirmTimeout {
		return fmt.Sprintf("%s:%s", m.Type, m.MatchID)
	}
	if m.RequestID == "" {
		return fmt.Sprintf("%s:requester:%s:%d", m.Type, m.RequesterID, m.Generation)
	}
	return fmt.Sprintf("%s:%s:%d", m.Type, m.RequestID, m.Generation)
}
