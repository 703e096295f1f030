package main

func main() {
	cmd, err := newRootCmd().ExecuteC()

	if cmd != nil && cmd.Context() != nil {
		if cc, ok := cliContextFrom(cmd.Context()); ok {
			cc.Close()
		}
	}

	if err != nil {
		exitOnError(err)
	}
}
