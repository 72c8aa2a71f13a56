package iocli

// IO абстрагирует терминал клиента: команды печатают через него и
// читают ввод оператора, тесты подставляют буфер вместо stdin/stdout
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
	Write(p []byte) (n int, err error)
}
