package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/fmueller/voxserve/internal/job"
	"github.com/fmueller/voxserve/internal/source"
	"go.uber.org/zap"
)

var errMissingAudio = errors.New("missing " + audioField + " field")

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartSlack)
	}

	part, err := audioPart(r)
	if err != nil {
		s.logger.Debug("rejecting upload", zap.Error(err))
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	defer part.Close()

	sink := job.NewCollectingSink(s.logger)
	started := s.controller.Start(r.Context(), job.Request{
		Language: s.opts.Language,
		Source:   source.NewUpload(part, s.opts.MaxUploadBytes),
	}, sink)
	w.Header().Set(jobIDHeader, started.ID)

	ev := sink.AwaitTerminal()
	if ev.Type == job.EventFailed {
		writeError(w, statusFor(ev.Kind), ev.Kind, ev.Detail)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": ev.Result.Text})
}

// audioPart streams the multipart body up to the audio field so the payload
// is never spooled by net/http.
func audioPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingAudio
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == audioField {
			return part, nil
		}
		_ = part.Close()
	}
}
