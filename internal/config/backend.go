package config

// ConfigBackend abstracts persisted config storage. Keys are dotted
// ("retrieval.top_k").
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}
