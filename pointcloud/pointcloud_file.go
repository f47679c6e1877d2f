package pointcloud

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string, logger golog.Logger) (*PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		f, err := os.Open(filepath.Clean(fn))
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Debugw("error closing point cloud file", "file", fn, "error", cerr)
			}
		}()
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes the point cloud out to the given file path as ascii PCD.
func WriteToFile(fn string, cloud *PointCloud) (err error) {
	f, err := os.OpenFile(filepath.Clean(fn), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	out := bufio.NewWriter(f)
	if err = ToPCD(cloud, out, PCDAscii); err != nil {
		return err
	}
	return out.Flush()
}

// ToPCD writes out a point cloud to a PCD file of the specified type.
func ToPCD(cloud *PointCloud, out io.Writer, outputType PCDType) error {
	if outputType != PCDAscii {
		return errors.New("only ascii PCD output is supported")
	}
	_, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA ascii\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}
	var werr error
	cloud.Iterate(0, 0, func(_ int, pos r3.Vector) bool {
		_, werr = fmt.Fprintf(out, "%v %v %v\n", pos.X, pos.Y, pos.Z)
		return werr == nil
	})
	return werr
}

type pcdHeader struct {
	fields string
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z", "x y z rgb":
			header.fields = value
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE", "TYPE", "COUNT":
		if len(tokens) != len(strings.Fields(header.fields)) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid POINTS field %s: %s", value, err)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads a PCD file into a point cloud. Only ascii data is supported;
// color fields are parsed but discarded since registration is position-only.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	var line string
	var err error
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, errors.Errorf("error reading header line %d: %s", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	if header.data != PCDAscii {
		return nil, errors.New("only ascii pcd data is supported")
	}
	return readPCDAscii(in, header)
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	numFields := len(strings.Fields(header.fields))
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		line = strings.TrimSpace(line)
		tokens := strings.Fields(line)
		if len(tokens) != numFields {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, 3)
		for j := 0; j < 3; j++ {
			point[j], err = strconv.ParseFloat(tokens[j], 64)
			if err != nil {
				return nil, errors.Errorf("invalid point %d field %s: %s", i, tokens[j], err)
			}
		}
		pc.Append(r3.Vector{X: point[0], Y: point[1], Z: point[2]})
	}
	return pc, nil
}
