package log_v1

import (
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

// ErrorOffsetOutOfRange is returned when a requested offset falls outside
// every segment's [baseOffset, nextOffset) range. It implements GRPCStatus
// so the gRPC layer surfaces it as codes.NotFound without any translation
// code in internal/server.
type ErrorOffsetOutOfRange struct {
	Offset uint64
}

// GRPCStatus returns a grpc.Status that represents the error as a NotFound,
// with a localized detail message that includes the offending offset.
func (e ErrorOffsetOutOfRange) GRPCStatus() *status.Status {
	st := status.New(
		codes.NotFound,
		fmt.Sprintf("offset %d out of range", e.Offset),
	)

	msg := fmt.Sprintf(
		"The requested offset is outside the log's range:%d",
		e.Offset,
	)

	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}

	return std
}

// Error implements the error interface. It returns the result of calling
// GRPCStatus().Err().Error().
func (e ErrorOffsetOutOfRange) Error() string {
	return e.GRPCStatus().Err().Error()
}
