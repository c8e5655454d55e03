// SPDX-License-Identifier: MIT
package transport

import (
	"hotswap/internal/log"
)

// LoggingTransport writes everything it is sent to the debug log.
type LoggingTransport struct{}

func NewLoggingTransport() *LoggingTransport {
	log.Debugf("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

func (lt *LoggingTransport) Send(data any) error {
	switch v := data.(type) {
	case StatusEvent:
		log.Debugf("Status: %s gen=%d blocks=%d silent=%d peaks=%v",
			v.State, v.Generation, v.Blocks, v.SilentBlocks, v.Peaks)
	default:
		log.Debugf("Transport: %T %+v", data, data)
	}
	return nil
}

func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
