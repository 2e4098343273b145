// Package proto holds the protobuf messages sent to SSE clients that ask for
// application/protobuf.
package proto

//go:generate protoc --go_out=. --go_opt=paths=source_relative annotator.proto
