package od

// This file regroups OD extensions that are executed when reading or writing to object dictionary

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Sizer is implemented by extension objects that know the size of
// the data they will produce on read
type Sizer interface {
	Size() (uint32, error)
}

type FileObject struct {
	FilePath  string
	WriteMode int
	ReadMode  int
	File      *os.File
	logger    *log.Entry
}

func NewFileObject(path string, readMode int, writeMode int) *FileObject {
	return &FileObject{
		FilePath:  path,
		ReadMode:  readMode,
		WriteMode: writeMode,
		logger:    log.WithFields(log.Fields{"service": "[OD]", "file": path}),
	}
}

// Size of the file on disk
func (f *FileObject) Size() (uint32, error) {
	info, err := os.Stat(f.FilePath)
	if err != nil {
		return 0, err
	}
	return uint32(info.Size()), nil
}

func (f *FileObject) close() {
	if f.File != nil {
		f.File.Close()
		f.File = nil
	}
}

// [SDO] Custom function for reading a file like object
// The stream DataLength is the number of bytes to be read in total
func ReadEntryFileObject(stream *Stream, data []byte, countRead *uint16) error {
	if stream == nil || data == nil || countRead == nil || stream.Subindex != 0 || stream.Object == nil {
		return ErrDevIncompat
	}
	fileObject, ok := stream.Object.(*FileObject)
	if !ok {
		stream.DataOffset = 0
		return ErrDevIncompat
	}
	if stream.DataOffset == 0 {
		var err error
		fileObject.close()
		fileObject.logger.Info("opening file for reading")
		fileObject.File, err = os.OpenFile(fileObject.FilePath, fileObject.ReadMode, 0644)
		if err != nil {
			fileObject.logger.Errorf("error opening file %v", err)
			return ErrDevIncompat
		}
	}
	toRead := min(uint32(len(data)), stream.DataLength-stream.DataOffset)
	countReadInt, err := io.ReadFull(fileObject.File, data[:toRead])
	*countRead = uint16(countReadInt)
	stream.DataOffset += uint32(countReadInt)

	switch err {
	case nil:
		if stream.DataOffset < stream.DataLength {
			return ErrPartial
		}
		fileObject.logger.Info("finished reading")
		fileObject.close()
		stream.DataOffset = 0
		return nil
	default:
		// File shrinked or unexpected error
		fileObject.logger.Errorf("error reading file %v", err)
		fileObject.close()
		stream.DataOffset = 0
		return ErrDevIncompat
	}
}

// [SDO] Custom function for writing a file like object
// The stream DataLength is the number of bytes to be written in total
func WriteEntryFileObject(stream *Stream, data []byte, countWritten *uint16) error {
	if stream == nil || countWritten == nil || stream.Subindex != 0 || stream.Object == nil {
		return ErrDevIncompat
	}
	fileObject, ok := stream.Object.(*FileObject)
	if !ok {
		stream.DataOffset = 0
		return ErrDevIncompat
	}
	if stream.DataOffset == 0 {
		var err error
		fileObject.close()
		fileObject.logger.Info("opening file for writing")
		fileObject.File, err = os.OpenFile(fileObject.FilePath, fileObject.WriteMode, 0644)
		if err != nil {
			fileObject.logger.Errorf("error opening file %v", err)
			return ErrDevIncompat
		}
	}
	if uint32(len(data)) > stream.DataLength-stream.DataOffset {
		fileObject.close()
		stream.DataOffset = 0
		return ErrDataLong
	}
	countWrittenInt, err := fileObject.File.Write(data)
	if err != nil {
		fileObject.logger.Errorf("error writing file %v", err)
		fileObject.close()
		stream.DataOffset = 0
		return ErrDevIncompat
	}
	*countWritten = uint16(countWrittenInt)
	stream.DataOffset += uint32(countWrittenInt)
	if stream.DataOffset < stream.DataLength {
		return ErrPartial
	}
	fileObject.logger.Info("finished writing")
	fileObject.close()
	stream.DataOffset = 0
	return nil
}
