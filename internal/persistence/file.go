// Package persistence writes archival records to the local filesystem.
package persistence

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoDataFile is returned by Latest when no data file has been written.
var ErrNoDataFile = errors.New("no data file found")

// DataFile is a file an archival record has been saved to.
type DataFile struct {
	// Prefix is the data directory.
	Prefix string
	// Datatype is the kind of record, e.g. "netperf".
	Datatype string
	// Subtest optionally distinguishes records of the same datatype.
	Subtest string
	// UUID identifies the record.
	UUID string
	// Path is the full path of the file.
	Path string
	// Size is the number of bytes written.
	Size int
}

// filename returns the name of a data file written at t.
func filename(datatype, subtest, uuid string, t time.Time) string {
	name := datatype + "-"
	if subtest != "" {
		name += subtest + "-"
	}
	return name + t.Format("20060102T150405.000000000Z") + "." + uuid + ".json"
}

// WriteDataFile saves the JSON representation of data under
// <datadir>/<datatype>/<YYYY>/<MM>/<DD>/. The file must not already exist.
func WriteDataFile(datadir, datatype, subtest, uuid string, data interface{}) (*DataFile, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().UTC()
	dir := path.Join(datadir, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	p := path.Join(dir, filename(datatype, subtest, uuid, timestamp))
	fp, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	n, err := fp.Write(content)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   datadir,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     p,
		Size:     n,
	}, nil
}

// Latest returns the path of the most recent data file of datatype in
// datadir.
func Latest(datadir, datatype string) (string, error) {
	var files []string
	root := filepath.Join(datadir, datatype)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), datatype+"-") &&
			strings.HasSuffix(d.Name(), ".json") {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(files) == 0) {
		return "", ErrNoDataFile
	}
	if err != nil {
		return "", err
	}
	// The date directories and the timestamp in the file name sort
	// chronologically.
	sort.Strings(files)
	return files[len(files)-1], nil
}

// ReadDataFile decodes the JSON data file at p into data.
func ReadDataFile(p string, data interface{}) error {
	content, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(content, data)
}
