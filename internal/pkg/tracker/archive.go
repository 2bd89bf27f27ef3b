// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-arcade/dispatch/internal/pkg/task"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Archive 结果归档，写入失败不影响结果记录
type Archive interface {
	Archive(ctx context.Context, r *task.Result) error
}

// TaskResult 结果归档表
type TaskResult struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TaskID     string         `gorm:"column:task_id;type:varchar(64);not null;index:idx_task_attempt" json:"taskId"` // 任务ID
	Attempt    int            `gorm:"column:attempt;not null;index:idx_task_attempt" json:"attempt"`                 // 第几次执行
	Kind       string         `gorm:"column:kind;type:varchar(32);not null" json:"kind"`                             // 任务类型
	Status     string         `gorm:"column:status;type:varchar(16);not null" json:"status"`                         // succeeded / failed
	Output     datatypes.JSON `gorm:"column:output;type:json" json:"output"`                                         // worker 输出
	Error      string         `gorm:"column:error;type:text" json:"error"`                                           // 错误信息
	WorkerID   string         `gorm:"column:worker_id;type:varchar(64)" json:"workerId"`
	DurationMs int64          `gorm:"column:duration_ms" json:"durationMs"` // 毫秒
	FinishedAt time.Time      `gorm:"column:finished_at" json:"finishedAt"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (TaskResult) TableName() string {
	return "t_task_result"
}

func toModel(r *task.Result) (*TaskResult, error) {
	var output datatypes.JSON
	if len(r.Output) > 0 {
		data, err := sonic.Marshal(r.Output)
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		output = datatypes.JSON(data)
	}
	return &TaskResult{
		TaskID:     r.TaskID,
		Attempt:    r.Attempt,
		Kind:       string(r.Kind),
		Status:     string(r.Status),
		Output:     output,
		Error:      r.Error,
		WorkerID:   r.WorkerID,
		DurationMs: r.Duration.Milliseconds(),
		FinishedAt: r.FinishedAt,
	}, nil
}

func (m *TaskResult) toResult() (*task.Result, error) {
	r := &task.Result{
		TaskID:     m.TaskID,
		Attempt:    m.Attempt,
		Kind:       task.Kind(m.Kind),
		Status:     task.Status(m.Status),
		Error:      m.Error,
		WorkerID:   m.WorkerID,
		Duration:   time.Duration(m.DurationMs) * time.Millisecond,
		FinishedAt: m.FinishedAt,
	}
	if len(m.Output) > 0 {
		if err := sonic.Unmarshal(m.Output, &r.Output); err != nil {
			return nil, fmt.Errorf("decode output: %w", err)
		}
	}
	return r, nil
}

type GormArchive struct {
	db *gorm.DB
}

func NewGormArchive(db *gorm.DB) *GormArchive {
	return &GormArchive{db: db}
}

func (a *GormArchive) Migrate() error {
	return a.db.AutoMigrate(&TaskResult{})
}

func (a *GormArchive) Archive(ctx context.Context, r *task.Result) error {
	m, err := toModel(r)
	if err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Table(m.TableName()).Create(m).Error; err != nil {
		return fmt.Errorf("archive result %s/%d: %w", r.TaskID, r.Attempt, err)
	}
	return nil
}

// List 按执行顺序返回某个任务的归档记录
func (a *GormArchive) List(ctx context.Context, taskID string) ([]*task.Result, error) {
	var rows []TaskResult
	err := a.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*task.Result, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toResult()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
