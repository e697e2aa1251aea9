package gateway

import (
	"strconv"
	"time"
)

// buildEnvelope wraps a result payload for WebSocket delivery:
//
//	{"type":"trend","key":"NSE:2885","data":{...},"ts":"...","seq":N,"key_seq":M}
//
// Built by hand because it runs once per result per instrument.
func buildEnvelope(key string, data []byte, now time.Time, seq, keySeq int64) []byte {
	buf := make([]byte, 0, len(key)+len(data)+128)
	buf = append(buf, `{"type":"trend","key":"`...)
	buf = append(buf, key...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"key_seq":`...)
	buf = strconv.AppendInt(buf, keySeq, 10)
	buf = append(buf, '}')
	return buf
}
