package storage

import "ammLedger/internal/model"

// Journal is a sink for committed pool operations.
type Journal interface {
	PutOperations(ops []model.OperationRecord) error
}

// Multi fans a batch out to every journal, stopping at the first error.
type Multi []Journal

func (m Multi) PutOperations(ops []model.OperationRecord) error {
	for _, j := range m {
		if j == nil {
			continue
		}
		if err := j.PutOperations(ops); err != nil {
			return err
		}
	}
	return nil
}
