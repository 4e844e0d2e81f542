package rawdb

import (
	"encoding/binary"
	"fmt"

	"github.com/eth2030/agentsim/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// --- Step reports ---

// WriteStepReport stores the RLP encoding of rec under its step number.
func WriteStepReport(db KeyValueWriter, rec *StepRecord) error {
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("encode step %d: %w", rec.Step, err)
	}
	return db.Put(stepKey(rec.Step), enc)
}

// ReadStepReport loads the report of one step.
func ReadStepReport(db KeyValueReader, step uint64) (*StepRecord, error) {
	data, err := db.Get(stepKey(step))
	if err != nil {
		return nil, err
	}
	rec := new(StepRecord)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return nil, fmt.Errorf("decode step %d: %w", step, err)
	}
	return rec, nil
}

// HasStepReport reports whether a step has been stored.
func HasStepReport(db KeyValueReader, step uint64) bool {
	ok, _ := db.Has(stepKey(step))
	return ok
}

// ReadStepNumbers returns the stored step numbers in ascending order.
func ReadStepNumbers(db Database) ([]uint64, error) {
	it := db.NewIterator(stepPrefix)
	defer it.Release()

	var steps []uint64
	for it.Next() {
		key := it.Key()
		if len(key) != len(stepPrefix)+8 {
			continue
		}
		steps = append(steps, binary.BigEndian.Uint64(key[len(stepPrefix):]))
	}
	return steps, it.Error()
}

// --- Accounts ---

// WriteAccount stores the final form of an account.
func WriteAccount(db KeyValueWriter, addr types.Address, rec *AccountRecord) error {
	enc, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", addr, err)
	}
	return db.Put(accountKey(addr), enc)
}

// ReadAccount loads a stored account.
func ReadAccount(db KeyValueReader, addr types.Address) (*AccountRecord, error) {
	data, err := db.Get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	rec := new(AccountRecord)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}
	return rec, nil
}

// --- Run metadata ---

func WriteRunMeta(db KeyValueWriter, meta *RunMeta) error {
	enc, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return fmt.Errorf("encode run meta: %w", err)
	}
	return db.Put(runMetaKey, enc)
}

func ReadRunMeta(db KeyValueReader) (*RunMeta, error) {
	data, err := db.Get(runMetaKey)
	if err != nil {
		return nil, err
	}
	meta := new(RunMeta)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, fmt.Errorf("decode run meta: %w", err)
	}
	return meta, nil
}
