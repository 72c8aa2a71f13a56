package models

import "time"

// UpdateStatus — фаза жизненного цикла оптимистичной записи
type UpdateStatus string

const (
	UpdateOptimistic UpdateStatus = "optimistic"
	UpdateConfirmed  UpdateStatus = "confirmed"
	UpdateReverted   UpdateStatus = "reverted"
)

// UpdateOp — вид мутации оптимистичной записи
type UpdateOp string

const (
	UpdateCreate UpdateOp = "create"
	UpdateUpdate UpdateOp = "update"
	UpdateDelete UpdateOp = "delete"
)

// UpdateEntity — сущность, к которой относится оптимистичная запись
type UpdateEntity string

const (
	EntityCompletion  UpdateEntity = "completion"
	EntityArrangement UpdateEntity = "arrangement"
	EntityAddress     UpdateEntity = "address"
	EntitySession     UpdateEntity = "session"
)

// StateUpdate — оптимистичная запись overlay: локально видимая,
// еще не подтвержденная мутация поверх последнего confirmed base.
// Владеет записями исключительно Optimistic Update Overlay.
// Data несет типизированное значение сущности (Completion,
// Arrangement, Address или DaySession).
type StateUpdate struct {
	Timestamp time.Time    `json:"timestamp"`
	Data      any          `json:"data"`
	ID        string       `json:"id"`
	Status    UpdateStatus `json:"status"`
	Op        UpdateOp     `json:"op"`
	Entity    UpdateEntity `json:"entity"`
}

// ConflictType — тип конфликтующей сущности
type ConflictType string

const (
	ConflictCompletion  ConflictType = "completion"
	ConflictArrangement ConflictType = "arrangement"
)

// Resolution — выбранная стратегия разрешения конфликта
type Resolution string

const (
	PreferIncoming Resolution = "prefer_incoming"
	PreferExisting Resolution = "prefer_existing"
)

// Conflict — зафиксированное расхождение между входящим (cloud)
// и текущим локальным значением одной сущности.
// Автоматического слияния полей не делается: запись либо явно
// разрешается вызывающей стороной, либо применяется default policy.
type Conflict struct {
	Incoming   any          `json:"incoming"`
	Existing   any          `json:"existing"`
	ID         string       `json:"id"`
	Type       ConflictType `json:"type"`
	Resolution Resolution   `json:"resolution"`
}
