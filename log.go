package listsync

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `listsync` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of one time (infrequent)
//     initialization data that is useful for monitoring
//     this includes:
//     - dial errors and connection close
//     - dropped frames (malformed, or sent while disconnected)
// V(2):
//     key events for trace debugging
//     this includes:
//     - per-frame send/receive with short bracketed subsystem tags
//       ([ch] channel, [ss] session, [db] debounce)
//     - channel state transitions

type LogFunction func(format string, a ...any)

func LogFn(tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(2) {
			m := fmt.Sprintf(format, a...)
			glog.Infof("%s%s\n", tag, m)
		}
	}
}
