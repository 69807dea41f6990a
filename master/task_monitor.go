// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package master

import (
	"sort"
	"sync"
	"time"
)

const (
	TaskStatusPending  = "Pending"
	TaskStatusComplete = "Complete"
	TaskStatusRunning  = "Running"
	TaskStatusFailed   = "Failed"

	TaskLoadRatings       = "Load ratings"
	TaskComputeSimilarity = "Compute similarity"
	TaskReplaceSimilarity = "Replace similarity"
)

// Task progress information.
type Task struct {
	Name       string
	Status     string
	Done       int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
}

// TaskMonitor monitors the progress of batch steps.
type TaskMonitor struct {
	TaskLock sync.Mutex
	Tasks    map[string]*Task
	listener func(Task)
}

// NewTaskMonitor creates a TaskMonitor with every step pending.
func NewTaskMonitor() *TaskMonitor {
	tasks := make(map[string]*Task)
	for _, name := range []string{TaskLoadRatings, TaskComputeSimilarity, TaskReplaceSimilarity} {
		tasks[name] = &Task{Name: name, Status: TaskStatusPending}
	}
	return &TaskMonitor{Tasks: tasks}
}

// OnUpdate registers a function receiving a copy of a task after every change.
// It is called with the monitor locked and must not call back into the monitor.
func (tm *TaskMonitor) OnUpdate(listener func(Task)) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	tm.listener = listener
}

func (tm *TaskMonitor) notify(task *Task) {
	if tm.listener != nil {
		tm.listener(*task)
	}
}

// Start a task.
func (tm *TaskMonitor) Start(name string, total int) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	task, exist := tm.Tasks[name]
	if !exist {
		task = &Task{Name: name}
		tm.Tasks[name] = task
	}
	task.Status = TaskStatusRunning
	task.Done = 0
	task.Total = total
	task.StartTime = time.Now()
	task.FinishTime = time.Time{}
	tm.notify(task)
}

// Update the progress of a task.
func (tm *TaskMonitor) Update(name string, done int) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	if task, exist := tm.Tasks[name]; exist {
		task.Done = done
		tm.notify(task)
	}
}

// Add increases the progress of a task.
func (tm *TaskMonitor) Add(name string, delta int) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	if task, exist := tm.Tasks[name]; exist {
		task.Done += delta
		tm.notify(task)
	}
}

// Finish a task.
func (tm *TaskMonitor) Finish(name string) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	if task, exist := tm.Tasks[name]; exist {
		task.Status = TaskStatusComplete
		task.Done = task.Total
		task.FinishTime = time.Now()
		tm.notify(task)
	}
}

// Fail marks a running task as failed.
func (tm *TaskMonitor) Fail(name string) {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	if task, exist := tm.Tasks[name]; exist && task.Status == TaskStatusRunning {
		task.Status = TaskStatusFailed
		task.FinishTime = time.Now()
		tm.notify(task)
	}
}

// Get the progress of a task.
func (tm *TaskMonitor) Get(name string) int {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	if task, exist := tm.Tasks[name]; exist {
		return task.Done
	}
	return 0
}

// List all tasks. Started tasks come first by start time, then pending tasks by name.
func (tm *TaskMonitor) List() []Task {
	tm.TaskLock.Lock()
	defer tm.TaskLock.Unlock()
	tasks := make([]Task, 0, len(tm.Tasks))
	for _, t := range tm.Tasks {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		iPending, jPending := tasks[i].Status == TaskStatusPending, tasks[j].Status == TaskStatusPending
		switch {
		case !iPending && jPending:
			return true
		case iPending && !jPending:
			return false
		case iPending && jPending:
			return tasks[i].Name < tasks[j].Name
		default:
			return tasks[i].StartTime.Before(tasks[j].StartTime)
		}
	})
	return tasks
}
