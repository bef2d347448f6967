// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// slaveIDBufSize bounds the Report Slave ID payload.
const slaveIDBufSize = 32

const (
	runIndicatorOn  = 0xFF
	runIndicatorOff = 0x00
)

// SetSlaveID sets the payload of the Report Slave ID response:
// id, run indicator, then additional. It fails with ErrNoResources when
// the payload does not fit.
func (s *Slave) SetSlaveID(id byte, running bool, additional []byte) error {
	if len(additional)+2 >= slaveIDBufSize {
		return fmt.Errorf("%w: slave id of %d bytes", ErrNoResources, len(additional)+2)
	}
	buf := make([]byte, 0, 2+len(additional))
	buf = append(buf, id)
	if running {
		buf = append(buf, runIndicatorOn)
	} else {
		buf = append(buf, runIndicatorOff)
	}
	buf = append(buf, additional...)

	s.mu.Lock()
	s.slaveID = buf
	s.mu.Unlock()
	return nil
}

// SlaveID returns the Report Slave ID payload.
func (s *Slave) SlaveID() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slaveID
}

// MachineIdent returns a short, stable identifier of the host suitable as
// additional Report Slave ID data. The raw machine id is never exposed.
func MachineIdent(appID string) ([]byte, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return nil, fmt.Errorf("machine id: %w", err)
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return []byte(id), nil
}
