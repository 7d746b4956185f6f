// Package imgrec contains an image recorder used to automatically save
// camera frames to disk in yyyy-mm-dd subfolders.
package imgrec

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gilbo123/spincam/spin"
)

// Recorder records image sequences in yyyy-mm-dd subfolders.  SaveFrame
// writes named single images; Write appends raw bytes under an internally
// incrementing counter, for cube formats that arrive pre-encoded.
type Recorder struct {
	// counter is the internally incrementing counter for Write
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for counter-named files
	Prefix string

	// Ext is the image extension SaveFrame encodes to, "png" when empty
	Ext string

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to
	// disable its use in their code
	Enabled bool

	mu sync.Mutex
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the dated folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// SaveFrame encodes a frame to disk under the given filename stem, in the
// dated subfolder.  Safe for concurrent use; event-driven cameras deliver
// from their own goroutines.
func (r *Recorder) SaveFrame(f spin.Frame, stem string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return err
	}
	ext := r.Ext
	if ext == "" {
		ext = "png"
	}
	fn := path.Join(fldr, stem+"."+ext)
	fid, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer fid.Close()
	return spin.EncodeFrame(fid, f, ext)
}

// Write implements io.Writer and appends p to the current counter-named
// file in the dated subfolder.
func (r *Recorder) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return 0, err
	}

	fn := fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter)
	fn = path.Join(fldr, fn)
	var fid *os.File
	fid, err = os.OpenFile(fn, os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil && os.IsNotExist(err) {
		fid, err = os.Create(fn)
		if err != nil {
			return 0, err
		}
	}
	defer fid.Close()
	if err != nil {
		return 0, err
	}
	return fid.Write(p)
}

// Incr updates the filename counter; it scans the folder to do so.  If
// there is an error, the counter is not incremented.
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	dn, _ := r.mkDir()
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.Split(fn, r.Prefix)[1]
		bit = bit[:len(bit)-5] // pop fits
		n, err := strconv.Atoi(bit)
		if err != nil {
			return
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}
