package conversation

import (
	"fmt"
	"time"

	"github.com/eg9y/chat-api-plugins/types"
)

// State 定义对话生命周期状态
type State string

const (
	StateIdle                State = "idle"
	StateFetching            State = "fetching"
	StateSummarizing         State = "summarizing"
	StateAwaitingSelection   State = "awaiting_selection"
	StateInvoking            State = "invoking"
	StateAwaitingFinalAnswer State = "awaiting_final_answer"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// validTransitions 定义合法的状态转换
var validTransitions = map[State][]State{
	StateIdle:                {StateFetching},
	StateFetching:            {StateSummarizing, StateFailed},
	StateSummarizing:         {StateAwaitingSelection, StateFailed},
	StateAwaitingSelection:   {StateInvoking, StateFailed},
	StateInvoking:            {StateAwaitingFinalAnswer, StateFailed},
	StateAwaitingFinalAnswer: {StateDone, StateFailed},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition records one state change. Code is set only when To is StateFailed.
type Transition struct {
	From State           `json:"from"`
	To   State           `json:"to"`
	At   time.Time       `json:"at"`
	Code types.ErrorCode `json:"code,omitempty"`
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
