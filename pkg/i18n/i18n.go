package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDB            string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	MigrationsApplied  string
	SchemaMissing      string
	APIServerError     string
	KafkaEnabled       string
	KafkaDisabled      string

	// Trade status
	StatusPending string
	StatusPartial string
	StatusSettled string

	// Settlement
	ReceiptApplied  string
	PaymentApplied  string
	SettlementNoFit string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting FX ledger...",
	ConfigLoaded:       "Config loaded (Port: %s, owner: %s)",
	UsingDB:            "Using %s database: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "Ledger stopped.",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	MigrationsApplied:  "Schema is up to date.",
	SchemaMissing:      "Missing tables: %v",
	APIServerError:     "API server error: %v",
	KafkaEnabled:       "Forwarding ledger events to Kafka topic %s",
	KafkaDisabled:      "Kafka brokers not configured, events stay in-process",

	// Trade status
	StatusPending: "pending",
	StatusPartial: "partially settled",
	StatusSettled: "settled",

	// Settlement
	ReceiptApplied:  "Receipt of %s %s from %s applied",
	PaymentApplied:  "Payment of %s %s to %s applied",
	SettlementNoFit: "no open trade matched, balances updated only",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "外匯帳本啟動中...",
	ConfigLoaded:       "設定已載入（連接埠：%s，業主：%s）",
	UsingDB:            "使用 %s 資料庫：%s",
	ServerListening:    "伺服器監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ShutdownComplete:   "帳本已停止。",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	MigrationsApplied:  "資料表結構已是最新。",
	SchemaMissing:      "缺少資料表：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	KafkaEnabled:       "帳本事件轉發至 Kafka 主題 %s",
	KafkaDisabled:      "未設定 Kafka，事件僅在程序內傳遞",

	// Trade status
	StatusPending: "待結算",
	StatusPartial: "部分結算",
	StatusSettled: "已結算",

	// Settlement
	ReceiptApplied:  "已入帳：收到 %[3]s 的 %[1]s %[2]s",
	PaymentApplied:  "已出帳：付給 %[3]s 的 %[1]s %[2]s",
	SettlementNoFit: "沒有符合的未結交易，僅更新餘額",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}

// StatusLabel renders a trade status in the current language.
func StatusLabel(status string) string {
	switch status {
	case "pending":
		return M().StatusPending
	case "partial":
		return M().StatusPartial
	case "settled":
		return M().StatusSettled
	}
	return status
}
