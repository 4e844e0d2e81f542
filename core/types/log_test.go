package types

import (
	"encoding/json"
	"testing"
)

func TestFilterMatch(t *testing.T) {
	addr1 := HexToAddress("0x1111111111111111111111111111111111111111")
	addr2 := HexToAddress("0x2222222222222222222222222222222222222222")
	topic1 := HexToHash("0xaaaa")
	topic2 := HexToHash("0xbbbb")

	l := &Log{Address: addr1, Topics: []Hash{topic1, topic2}}

	tests := []struct {
		name   string
		filter LogFilter
		want   bool
	}{
		{"empty filter", LogFilter{}, true},
		{"address match", LogFilter{Addresses: []Address{addr2, addr1}}, true},
		{"address miss", LogFilter{Addresses: []Address{addr2}}, false},
		{"first topic", LogFilter{Topics: [][]Hash{{topic1}}}, true},
		{"wildcard then topic", LogFilter{Topics: [][]Hash{nil, {topic2}}}, true},
		{"wrong position", LogFilter{Topics: [][]Hash{{topic2}}}, false},
		{"too many positions", LogFilter{Topics: [][]Hash{nil, nil, {topic1}}}, false},
		{"or within position", LogFilter{Topics: [][]Hash{{topic2, topic1}}}, true},
	}
	for _, tt := range tests {
		f := tt.filter
		if got := FilterMatch(l, &f); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if FilterMatch(l, nil) {
		t.Error("nil filter should not match")
	}
}

func TestFilterLogs(t *testing.T) {
	addr1 := HexToAddress("0x01")
	addr2 := HexToAddress("0x02")
	logs := []*Log{
		{Address: addr1, Index: 0},
		{Address: addr2, Index: 1},
		{Address: addr1, Index: 2},
	}
	got := FilterLogs(logs, &LogFilter{Addresses: []Address{addr1}})
	if len(got) != 2 || got[0].Index != 0 || got[1].Index != 2 {
		t.Fatalf("FilterLogs: unexpected result %+v", got)
	}
}

func TestLogJSON(t *testing.T) {
	l := &Log{
		Address: HexToAddress("0x01"),
		Topics:  []Hash{HexToHash("0x02")},
		Data:    []byte{0xde, 0xad},
		Step:    4,
		TxIndex: 1,
		Index:   7,
	}
	enc, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var dec Log
	if err := json.Unmarshal(enc, &dec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dec.Address != l.Address || len(dec.Topics) != 1 || dec.Topics[0] != l.Topics[0] {
		t.Fatalf("decoded log mismatch: %+v", dec)
	}
	if string(dec.Data) != string(l.Data) || dec.Step != 4 || dec.TxIndex != 1 || dec.Index != 7 {
		t.Fatalf("decoded log fields mismatch: %+v", dec)
	}
}

func TestLogCopy(t *testing.T) {
	l := &Log{Topics: []Hash{{1}}, Data: []byte{1}}
	c := l.Copy()
	c.Topics[0] = Hash{2}
	c.Data[0] = 2
	if l.Topics[0] != (Hash{1}) || l.Data[0] != 1 {
		t.Fatal("Copy must not share slices")
	}
}
