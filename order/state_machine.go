package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机：会话只接受合法的状态推进，终态不可回退。
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legal := []StateTransition{
		{StatusOpen, StatusClosed},
		{StatusOpen, StatusCanceled},
		{StatusOpen, StatusRejected},
		{StatusOpen, StatusUnknown},

		// unknown 只是“这一轮没拿到信息”，下一轮可以恢复成任意状态
		{StatusUnknown, StatusOpen},
		{StatusUnknown, StatusClosed},
		{StatusUnknown, StatusCanceled},
		{StatusUnknown, StatusRejected},

		// 终态不能转换（closed, canceled, rejected）
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	return status.Terminal()
}

// CanCancel 判断当前状态下是否可以撤单
func (sm *StateMachine) CanCancel(status Status) bool {
	return status == StatusOpen || status == StatusUnknown
}
