package downloader

// Hook is called once for every hour that reaches a terminal outcome. It
// may be called from several goroutines at once.
type Hook func(outcome Outcome)

func chainHooks(hooks ...Hook) Hook {
	return func(outcome Outcome) {
		for _, h := range hooks {
			if h != nil {
				h(outcome)
			}
		}
	}
}
