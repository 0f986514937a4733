package egsphant

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Phantom is the parsed content of an egsphant file. Material and Density
// are indexed [z][y][x].
type Phantom struct {
	Materials []string
	Estepe    []float64
	Size      [3]int
	Edges     [3][]float64
	Material  [][][]int
	Density   [][][]float64
}

// NumVoxels returns nx*ny*nz.
func (p *Phantom) NumVoxels() int {
	return p.Size[0] * p.Size[1] * p.Size[2]
}

type lineReader struct {
	sc   *bufio.Scanner
	line int
}

func (r *lineReader) next() (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	r.line++
	return r.sc.Text(), nil
}

// nextNonBlank skips blank lines.
func (r *lineReader) nextNonBlank() (string, error) {
	for {
		s, err := r.next()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
}

// floats reads whitespace separated values across lines until n are read.
func (r *lineReader) floats(n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for len(out) < n {
		s, err := r.nextNonBlank()
		if err != nil {
			return nil, err
		}
		for _, f := range strings.Fields(s) {
			if len(out) == n {
				return nil, r.errorf("too many values on line")
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, r.errorf("bad number %q", f)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *lineReader) errorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf("line %d: ", r.line) + fmt.Sprintf(format, args...)}
}

// Read parses an egsphant file. Gzip-compressed input is detected
// automatically.
func Read(in io.Reader) (*Phantom, error) {
	br := bufio.NewReader(in)
	magic, _ := br.Peek(2)
	var src io.Reader = br
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, &IOError{Op: "decompress", Err: err}
		}
		defer gz.Close()
		src = gz
	}

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	r := &lineReader{sc: sc}

	p := &Phantom{}
	if err := readHeader(r, p); err != nil {
		return nil, err
	}
	if err := readEdges(r, p); err != nil {
		return nil, err
	}
	if err := readMaterials(r, p); err != nil {
		return nil, err
	}
	if err := readDensities(r, p); err != nil {
		return nil, err
	}
	return p, nil
}

func readHeader(r *lineReader, p *Phantom) error {
	s, err := r.nextNonBlank()
	if err != nil {
		return wrapRead(err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return r.errorf("bad material count %q", s)
	}
	p.Materials = make([]string, n)
	for i := range p.Materials {
		if s, err = r.nextNonBlank(); err != nil {
			return wrapRead(err)
		}
		p.Materials[i] = strings.TrimSpace(s)
	}
	if p.Estepe, err = r.floats(n); err != nil {
		return wrapRead(err)
	}

	if s, err = r.nextNonBlank(); err != nil {
		return wrapRead(err)
	}
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return r.errorf("expected 3 dimensions, got %q", s)
	}
	for i, f := range fields {
		if p.Size[i], err = strconv.Atoi(f); err != nil || p.Size[i] <= 0 {
			return r.errorf("bad dimension %q", f)
		}
	}
	return nil
}

func readEdges(r *lineReader, p *Phantom) error {
	for axis := 0; axis < 3; axis++ {
		edges, err := r.floats(p.Size[axis] + 1)
		if err != nil {
			return wrapRead(err)
		}
		p.Edges[axis] = edges
	}
	return nil
}

func readMaterials(r *lineReader, p *Phantom) error {
	nx, ny, nz := p.Size[0], p.Size[1], p.Size[2]
	p.Material = make([][][]int, nz)
	for k := 0; k < nz; k++ {
		p.Material[k] = make([][]int, ny)
		for j := 0; j < ny; j++ {
			s, err := r.nextNonBlank()
			if err != nil {
				return wrapRead(err)
			}
			s = strings.TrimRight(s, " \r")
			if len(s) != nx {
				return r.errorf("material row has %d entries, expected %d", len(s), nx)
			}
			row := make([]int, nx)
			for i := 0; i < nx; i++ {
				c := s[i]
				if c < '0' || c > '9' {
					return r.errorf("bad material digit %q", c)
				}
				row[i] = int(c - '0')
			}
			p.Material[k][j] = row
		}
	}
	return nil
}

func readDensities(r *lineReader, p *Phantom) error {
	nx, ny, nz := p.Size[0], p.Size[1], p.Size[2]
	p.Density = make([][][]float64, nz)
	for k := 0; k < nz; k++ {
		p.Density[k] = make([][]float64, ny)
		for j := 0; j < ny; j++ {
			row, err := r.floats(nx)
			if err != nil {
				return wrapRead(err)
			}
			p.Density[k][j] = row
		}
	}
	return nil
}

func wrapRead(err error) error {
	if _, ok := err.(*FormatError); ok {
		return err
	}
	return &IOError{Op: "read", Err: err}
}

// ReadFile parses the egsphant file at path.
func ReadFile(path string) (*Phantom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	p, err := Read(f)
	if err != nil {
		if ioErr, ok := err.(*IOError); ok {
			ioErr.Path = path
		}
		return nil, err
	}
	return p, nil
}
