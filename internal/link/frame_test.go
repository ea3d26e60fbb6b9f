package link

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestStuffUnstuffRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		{flagByte},
		{escapeByte},
		{flagByte, escapeByte, flagByte},
		{0x01, 0x02, 0x03, flagByte, 0x04, escapeByte, 0x05},
		bytes.Repeat([]byte{flagByte, escapeByte}, 50),
	}

	for i, c := range cases {
		got := unstuff(stuff(c))
		if !bytes.Equal(got, c) && !(len(got) == 0 && len(c) == 0) {
			t.Errorf("case %d: unstuff(stuff(%v)) = %v, want %v", i, c, got, c)
		}
	}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := r.Intn(64)
		buf := make([]byte, n)
		r.Read(buf)
		got := unstuff(stuff(buf))
		if !bytes.Equal(got, buf) {
			t.Fatalf("random case %d: unstuff(stuff(%v)) = %v, want %v", i, buf, got, buf)
		}
	}
}

func TestStuffEscapesOnlyFlagAndEscape(t *testing.T) {
	in := []byte{0x7E, 0x41, 0x7D, 0x42}
	want := []byte{0x7D, 0x5E, 0x41, 0x7D, 0x5D, 0x42}
	got := stuff(in)
	if !bytes.Equal(got, want) {
		t.Fatalf("stuff(%v) = %v, want %v", in, got, want)
	}
}

func TestBCCStability(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		n := 1 + r.Intn(64)
		buf := make([]byte, n)
		r.Read(buf)

		var want byte
		for _, b := range buf {
			want ^= b
		}
		if got := bcc2(buf); got != want {
			t.Fatalf("bcc2(%v) = %#x, want %#x", buf, got, want)
		}
	}

	for a := 0; a < 256; a += 17 {
		for c := 0; c < 256; c += 23 {
			want := byte(a) ^ byte(c)
			if got := bcc1(byte(a), byte(c)); got != want {
				t.Fatalf("bcc1(%#x, %#x) = %#x, want %#x", a, c, got, want)
			}
		}
	}
}

func TestEncodeInformationFlagPayload(t *testing.T) {
	// A payload byte that collides with FLAG must come out escaped. BCC2 of
	// that single byte is FLAG as well, so it is escaped too.
	frame := encodeInformation(addrSender, ctrlI0, []byte{flagByte})
	want := []byte{flagByte, addrSender, ctrlI0, bcc1(addrSender, ctrlI0), escapeByte, flagByte ^ stuffMask, escapeByte, flagByte ^ stuffMask, flagByte}
	if !bytes.Equal(frame, want) {
		t.Fatalf("encodeInformation(FLAG) = %v, want %v", frame, want)
	}
}

func TestEncodeInformationEscapePayload(t *testing.T) {
	// A payload byte that collides with ESCAPE must come out escaped too, as
	// must its BCC2, which is ESCAPE as well.
	frame := encodeInformation(addrSender, ctrlI0, []byte{escapeByte})
	want := []byte{flagByte, addrSender, ctrlI0, bcc1(addrSender, ctrlI0), escapeByte, escapeByte ^ stuffMask, escapeByte, escapeByte ^ stuffMask, flagByte}
	if !bytes.Equal(frame, want) {
		t.Fatalf("encodeInformation(ESCAPE) = %v, want %v", frame, want)
	}
}

// scriptedPort replays a canned byte stream for readFrame tests and records
// every Write call for assertion. When stallUntil is non-zero, ReadByte
// reports a timeout (n == 0) until that wall-clock instant passes, which
// lets a test simulate a response that arrives only after a real deadline
// has already expired once, without a second goroutine racing the fake.
type scriptedPort struct {
	toRead     []byte
	pos        int
	writes     [][]byte
	stallUntil time.Time
}

func (s *scriptedPort) ReadByte() (int, byte, error) {
	if !s.stallUntil.IsZero() && time.Now().Before(s.stallUntil) {
		return 0, 0, nil
	}
	if s.pos >= len(s.toRead) {
		return 0, 0, nil
	}
	b := s.toRead[s.pos]
	s.pos++
	return 1, b, nil
}

func (s *scriptedPort) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	s.writes = append(s.writes, cp)
	return len(p), nil
}

func (s *scriptedPort) Close() error { return nil }

func TestReadFrameParsesSupervisoryFrame(t *testing.T) {
	script := encodeSupervisory(addrSender, ctrlSET)
	p := &scriptedPort{toRead: script}

	frame, err := readFrame(p, time.Time{}, false, addrSender, isSET, isNever)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if frame.Kind != kindSupervisory || frame.Control != ctrlSET {
		t.Fatalf("got frame %+v, want supervisory SET", frame)
	}
}

func TestReadFrameParsesInformationFrame(t *testing.T) {
	payload := []byte("Hello, World!")
	script := encodeInformation(addrSender, ctrlI0, payload)
	p := &scriptedPort{toRead: script}

	frame, err := readFrame(p, time.Time{}, false, addrSender, isInformationOrDisc, isInformationControl)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if frame.Kind != kindInformation || frame.Control != ctrlI0 {
		t.Fatalf("got frame %+v, want information I(0)", frame)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("got payload %v, want %v", frame.Payload, payload)
	}
}

func TestReadFrameSkipsGarbageBeforeFlag(t *testing.T) {
	script := append([]byte{0x11, 0x22, 0x33}, encodeSupervisory(addrSender, ctrlSET)...)
	p := &scriptedPort{toRead: script}

	frame, err := readFrame(p, time.Time{}, false, addrSender, isSET, isNever)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if frame.Control != ctrlSET {
		t.Fatalf("got control %#x, want SET", frame.Control)
	}
}

func TestReadFrameDetectsBCC2Mismatch(t *testing.T) {
	payload := []byte("abc")
	frame := encodeInformation(addrSender, ctrlI0, payload)
	frame[len(frame)-2] ^= 0xFF // corrupt the stuffed BCC2 byte
	p := &scriptedPort{toRead: frame}

	_, err := readFrame(p, time.Time{}, false, addrSender, isInformationOrDisc, isInformationControl)
	if err != ErrFrame {
		t.Fatalf("got err %v, want ErrFrame", err)
	}
}
