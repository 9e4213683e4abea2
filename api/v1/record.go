// Package log_v1 holds the wire types exchanged between a clog agent and
// its RPC clients: the Record stored in the commit log, the Produce/Consume
// request/response pairs, and the typed error the log surfaces when an
// offset falls outside its range.
package log_v1

import "fmt"

// Record is the payload a Segment encodes into its store. Offset is
// assigned by the segment at append time and is never set by callers.
type Record struct {
	Value  []byte `protobuf:"bytes,1,opt,name=value,proto3" json:"value,omitempty"`
	Offset uint64 `protobuf:"varint,2,opt,name=offset,proto3" json:"offset,omitempty"`
}

func (r *Record) Reset()         { *r = Record{} }
func (r *Record) String() string { return fmt.Sprintf("value:%q offset:%d", r.Value, r.Offset) }
func (*Record) ProtoMessage()    {}

func (r *Record) GetValue() []byte {
	if r != nil {
		return r.Value
	}
	return nil
}

func (r *Record) GetOffset() uint64 {
	if r != nil {
		return r.Offset
	}
	return 0
}

// ProduceRequest carries one record to be appended to the log.
type ProduceRequest struct {
	Record *Record `protobuf:"bytes,1,opt,name=record,proto3" json:"record,omitempty"`
}

func (m *ProduceRequest) Reset()         { *m = ProduceRequest{} }
func (m *ProduceRequest) String() string { return fmt.Sprintf("record:%v", m.Record) }
func (*ProduceRequest) ProtoMessage()    {}

func (m *ProduceRequest) GetRecord() *Record {
	if m != nil {
		return m.Record
	}
	return nil
}

// ProduceResponse carries the offset a ProduceRequest's record was
// assigned.
type ProduceResponse struct {
	Offset uint64 `protobuf:"varint,1,opt,name=offset,proto3" json:"offset,omitempty"`
}

func (m *ProduceResponse) Reset()         { *m = ProduceResponse{} }
func (m *ProduceResponse) String() string { return fmt.Sprintf("offset:%d", m.Offset) }
func (*ProduceResponse) ProtoMessage()    {}

func (m *ProduceResponse) GetOffset() uint64 {
	if m != nil {
		return m.Offset
	}
	return 0
}

// ConsumeRequest asks for the record at Offset.
type ConsumeRequest struct {
	Offset uint64 `protobuf:"varint,1,opt,name=offset,proto3" json:"offset,omitempty"`
}

func (m *ConsumeRequest) Reset()         { *m = ConsumeRequest{} }
func (m *ConsumeRequest) String() string { return fmt.Sprintf("offset:%d", m.Offset) }
func (*ConsumeRequest) ProtoMessage()    {}

func (m *ConsumeRequest) GetOffset() uint64 {
	if m != nil {
		return m.Offset
	}
	return 0
}

// ConsumeResponse carries the record a ConsumeRequest asked for.
type ConsumeResponse struct {
	Record *Record `protobuf:"bytes,1,opt,name=record,proto3" json:"record,omitempty"`
}

func (m *ConsumeResponse) Reset()         { *m = ConsumeResponse{} }
func (m *ConsumeResponse) String() string { return fmt.Sprintf("record:%v", m.Record) }
func (*ConsumeResponse) ProtoMessage()    {}

func (m *ConsumeResponse) GetRecord() *Record {
	if m != nil {
		return m.Record
	}
	return nil
}
