package rawdb

import (
	"sort"

	"github.com/eth2030/agentsim/core/state"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/log"
	"github.com/eth2030/agentsim/sim"
)

// ReportSink persists simulation reports into a Database. Steps are written
// as they settle; Finish writes the final accounts and the run metadata in
// one batch.
type ReportSink struct {
	db     Database
	meta   RunMeta
	logger *log.Logger
}

// NewReportSink creates a sink writing into db. meta supplies the scenario
// name and seed; the remaining fields are filled in by Finish.
func NewReportSink(db Database, meta RunMeta) *ReportSink {
	return &ReportSink{db: db, meta: meta, logger: log.Default().Module("rawdb")}
}

// WriteStep stores one step report.
func (s *ReportSink) WriteStep(r *sim.StepReport) error {
	return WriteStepReport(s.db, NewStepRecord(r))
}

// Finish stores every account of world and the run metadata.
func (s *ReportSink) Finish(r *sim.Report, world *state.WorldState) error {
	batch := s.db.NewBatch()
	addrs := world.Addresses()
	for _, addr := range addrs {
		acct := world.GetAccount(addr)
		if err := WriteAccount(batch, addr, NewAccountRecord(&acct)); err != nil {
			return err
		}
	}
	meta := s.meta
	meta.Steps = uint64(len(r.Steps))
	meta.FinalRoot = r.FinalRoot
	meta.Interrupted = r.Interrupted
	if r.Fatal != nil {
		meta.Fatal = r.Fatal.Error()
	}
	if err := WriteRunMeta(batch, &meta); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.logger.Info("report persisted", "steps", meta.Steps, "accounts", len(addrs), "root", meta.FinalRoot)
	return nil
}

// NewStepRecord converts a step report to its stored form.
func NewStepRecord(r *sim.StepReport) *StepRecord {
	rec := &StepRecord{
		Step:      r.Step,
		Block:     r.Block.Number,
		Timestamp: r.Block.Timestamp,
		Root:      r.Root,
		Snapshot:  uint64(r.Snapshot),
	}
	for _, res := range r.Results {
		tx, out := res.Tx, res.Outcome
		txr := TxRecord{
			Agent:           res.Agent,
			From:            tx.From,
			Value:           tx.ValueOrZero(),
			Data:            tx.Data,
			GasLimit:        tx.GasLimit,
			GasPrice:        tx.GasPriceOrZero(),
			Status:          out.Status.String(),
			GasUsed:         out.GasUsed,
			ReturnData:      out.ReturnData,
			ContractAddress: out.ContractAddress,
		}
		if tx.To != nil {
			txr.To = tx.To.Bytes()
		}
		if out.Err != nil {
			txr.Err = out.Err.Error()
		}
		for _, l := range out.Logs {
			txr.Logs = append(txr.Logs, LogRecord{Address: l.Address, Topics: l.Topics, Data: l.Data})
		}
		rec.Results = append(rec.Results, txr)
	}
	for _, ae := range r.AgentErrors {
		rec.AgentErrors = append(rec.AgentErrors, AgentErrorRecord{Agent: ae.Agent, Err: ae.Err.Error()})
	}
	return rec
}

// NewAccountRecord converts an account to its stored form.
func NewAccountRecord(acct *types.Account) *AccountRecord {
	rec := &AccountRecord{
		Nonce:   acct.Nonce,
		Balance: types.CopyU256(acct.Balance),
		Code:    acct.Code,
	}
	for k, v := range acct.Storage {
		if v != (types.Hash{}) {
			rec.Storage = append(rec.Storage, StorageRecord{Key: k, Value: v})
		}
	}
	sort.Slice(rec.Storage, func(i, j int) bool {
		return rec.Storage[i].Key.Cmp(rec.Storage[j].Key) < 0
	})
	return rec
}

var _ sim.ReportSink = (*ReportSink)(nil)
