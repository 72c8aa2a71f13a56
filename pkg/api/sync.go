package api

import (
	"encoding/json"
	"time"
)

// Статусы применения одной операции на сервере
const (
	// OpStatusOK — операция применена
	OpStatusOK = "ok"
	// OpStatusDuplicate — операция с этой (device_id, sequence) уже
	// была применена ранее; повторная отправка безвредна
	OpStatusDuplicate = "duplicate"
	// OpStatusConflict — операция отвергнута из-за конфликта
	OpStatusConflict = "conflict"
	// OpStatusInvalid — операция не прошла серверную валидацию
	OpStatusInvalid = "invalid"
)

// Operation представляет одну операцию журнала на проводе
type Operation struct {
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Sequence  int64           `json:"sequence"`
}

// OpsRequest представляет батч операций от клиента
type OpsRequest struct {
	Operations []Operation `json:"operations"`
}

// OpResult — результат применения одной операции батча
type OpResult struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Sequence int64  `json:"sequence"`
}

// OpsResponse представляет ответ сервера на батч
type OpsResponse struct {
	Results []OpResult `json:"results"`
	// Cursor — серверный курсор после применения батча; клиент
	// сохраняет его и передает в следующем pull как since
	Cursor int64 `json:"cursor"`
}

// PullResponse представляет операции других устройств с момента since
type PullResponse struct {
	Operations []Operation `json:"operations"`
	Cursor     int64       `json:"cursor"`
}

// HealthResponse — ответ health-эндпоинта
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
