package obs

import "os"

func currentPID() int {
	return os.Getpid()
}
