package log

import (
	"fmt"

	krlog "github.com/go-kratos/kratos/v2/log"
)

var _ krlog.Logger = (*zapLogger)(nil)

// Log implements the kratos logger so the same zap core can back kratos based services.
func (l *zapLogger) Log(level krlog.Level, keyvals ...any) error {
	if len(keyvals) == 0 || len(keyvals)%2 != 0 {
		l.z.Sugar().Warnw(fmt.Sprint("keyvalues must appear in pairs: ", keyvals))
		return nil
	}

	switch level {
	case krlog.LevelDebug:
		l.z.Sugar().Debugw("", keyvals...)
	case krlog.LevelInfo:
		l.z.Sugar().Infow("", keyvals...)
	case krlog.LevelWarn:
		l.z.Sugar().Warnw("", keyvals...)
	case krlog.LevelError:
		l.z.Sugar().Errorw("", keyvals...)
	case krlog.LevelFatal:
		l.z.Sugar().Fatalw("", keyvals...)
	default:
		l.z.Sugar().Infow("", keyvals...)
	}
	return nil
}
