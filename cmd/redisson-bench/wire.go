package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/willpyshan13/redisson"
)

// The bench speaks a small text protocol over TCP. A command is an array
// header "*<n>" followed by n length-prefixed tokens ("$<len>" then the
// raw bytes), the first token being the command name. A reply is a
// "-<message>" error line or a "$<len>" bulk payload, with $-1 meaning
// nil.

// benchFramer is the transport.Framer for the bench protocol.
type benchFramer struct{}

func (benchFramer) WriteCommand(bw *bufio.Writer, name string, args []interface{}) error {
	if _, err := fmt.Fprintf(bw, "*%d\r\n", 1+len(args)); err != nil {
		return err
	}
	if err := writeToken(bw, []byte(name)); err != nil {
		return err
	}
	for _, a := range args {
		if err := writeToken(bw, tokenBytes(a)); err != nil {
			return err
		}
	}
	return nil
}

func (benchFramer) ReadReply(rd *bufio.Reader) (interface{}, error) {
	line, err := readLine(rd)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("bench: empty reply line")
	}
	switch line[0] {
	case '-':
		return nil, &redisson.ServerError{Text: line[1:]}
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("bench: malformed bulk header %q", line)
		}
		if n < 0 {
			return nil, nil
		}
		payload, err := readPayload(rd, n)
		if err != nil {
			return nil, err
		}
		return string(payload), nil
	}
	return nil, fmt.Errorf("bench: malformed reply %q", line)
}

// tokenBytes renders one dispatched argument for the wire, whatever shape
// the dispatch path put it in.
func tokenBytes(a interface{}) []byte {
	switch t := a.(type) {
	case *redisson.Buffer:
		return t.Bytes()
	case []byte:
		return t
	case string:
		return []byte(t)
	case int:
		return strconv.AppendInt(nil, int64(t), 10)
	default:
		return []byte(fmt.Sprint(t))
	}
}

// readCommand is the server half: one array header, then the tokens.
func readCommand(rd *bufio.Reader) (name string, args []string, err error) {
	header, err := readLine(rd)
	if err != nil {
		return "", nil, err
	}
	if !strings.HasPrefix(header, "*") {
		return "", nil, fmt.Errorf("bench: malformed command header %q", header)
	}
	n, err := strconv.Atoi(header[1:])
	if err != nil || n < 1 {
		return "", nil, fmt.Errorf("bench: malformed command header %q", header)
	}

	tokens := make([]string, n)
	for i := range tokens {
		line, err := readLine(rd)
		if err != nil {
			return "", nil, err
		}
		if !strings.HasPrefix(line, "$") {
			return "", nil, fmt.Errorf("bench: malformed token header %q", line)
		}
		size, err := strconv.Atoi(line[1:])
		if err != nil || size < 0 {
			return "", nil, fmt.Errorf("bench: malformed token header %q", line)
		}
		payload, err := readPayload(rd, size)
		if err != nil {
			return "", nil, err
		}
		tokens[i] = string(payload)
	}
	return tokens[0], tokens[1:], nil
}

// writeReply is the server half of ReadReply.
func writeReply(bw *bufio.Writer, v interface{}, cmdErr error) error {
	if cmdErr != nil {
		_, err := fmt.Fprintf(bw, "-%s\r\n", cmdErr.Error())
		return err
	}
	if v == nil {
		_, err := bw.WriteString("$-1\r\n")
		return err
	}
	return writeToken(bw, []byte(fmt.Sprint(v)))
}

func writeToken(bw *bufio.Writer, b []byte) error {
	if _, err := fmt.Fprintf(bw, "$%d\r\n", len(b)); err != nil {
		return err
	}
	if _, err := bw.Write(b); err != nil {
		return err
	}
	_, err := bw.WriteString("\r\n")
	return err
}

func readLine(rd *bufio.Reader) (string, error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readPayload(rd *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n+2) // payload plus trailing \r\n
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, err
	}
	return buf[:n], nil
}
