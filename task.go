package main

import (
	"fmt"
	"sync"

	"github.com/chelnak/ysmrr"
)

// TaskManager renders each step of a run as a spinner line, or as plain
// lines when progress animation is off. Nothing is rendered in JSON mode.
type TaskManager struct {
	sm         ysmrr.SpinnerManager
	isOut      bool
	noProgress bool
	stopOnce   sync.Once
}

type Task struct {
	spinner *ysmrr.Spinner
	manager *TaskManager
}

func InitTaskManager(jsonOutput, unixOutput bool) *TaskManager {
	isOut := !jsonOutput
	tm := &TaskManager{sm: ysmrr.NewSpinnerManager(), isOut: isOut, noProgress: unixOutput}
	if isOut && !unixOutput {
		tm.sm.Start()
	}
	return tm
}

func (tm *TaskManager) animated() bool {
	return tm.isOut && !tm.noProgress
}

func (tm *TaskManager) Stop() {
	if tm.animated() {
		tm.stopOnce.Do(tm.sm.Stop)
	}
}

func (tm *TaskManager) Println(message string) {
	if !tm.isOut {
		return
	}
	if tm.noProgress {
		fmt.Println(message)
		return
	}
	context := &Task{manager: tm}
	context.spinner = tm.sm.AddSpinner(message)
	context.Complete()
}

func (tm *TaskManager) Run(title string, callback func(task *Task)) {
	context := &Task{manager: tm}
	if tm.animated() {
		context.spinner = tm.sm.AddSpinner(title)
	}
	callback(context)
}

func (t *Task) Complete() {
	if t.spinner == nil {
		return
	}
	t.spinner.Complete()
}

// Error marks the step as failed.
func (t *Task) Error() {
	if t.spinner == nil {
		return
	}
	t.spinner.Error()
}

// Updatef replaces the live message; plain output skips intermediate updates.
func (t *Task) Updatef(format string, a ...any) {
	if t.spinner == nil {
		return
	}
	t.spinner.UpdateMessagef(format, a...)
}

func (t *Task) Println(message string) {
	if !t.manager.isOut {
		return
	}
	if t.manager.noProgress {
		fmt.Println(message)
		return
	}
	if t.spinner == nil {
		return
	}
	t.spinner.UpdateMessage(message)
}

func (t *Task) Printf(format string, a ...any) {
	t.Println(fmt.Sprintf(format, a...))
}
