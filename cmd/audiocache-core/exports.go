package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"encoding/json"

	"go.uber.org/zap"
)

// cString returns s as a C string owned by the caller, or NULL when !ok
func cString(s string, ok bool) *C.char {
	if !ok {
		return nil
	}
	return C.CString(s)
}

func cJSON(v interface{}, err error) *C.char {
	if err != nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal response", zap.Error(err))
		return nil
	}
	return C.CString(string(data))
}

//export SetCurrentUser
func SetCurrentUser(userID *C.char) C.int {
	return C.int(setCurrentUser(C.GoString(userID)))
}

func setCurrentUser(userID string) int {
	svc, ok := acquire()
	if !ok {
		return codeNotInitialized
	}
	defer release()

	if err := svc.SetCurrentUser(ctx, userID); err != nil {
		logger.Error("Failed to set current user", zap.Error(err))
		return errorCode(err)
	}
	return codeOK
}

//export GetCurrentUser
func GetCurrentUser() *C.char {
	return cString(currentUser())
}

func currentUser() (string, bool) {
	svc, ok := acquire()
	if !ok {
		return "", false
	}
	defer release()

	user, err := svc.CurrentUser(ctx)
	if err != nil {
		logger.Error("Failed to read current user", zap.Error(err))
		return "", false
	}
	return user, user != ""
}

//export GetDownloadedAudios
func GetDownloadedAudios() *C.char {
	svc, ok := acquire()
	if !ok {
		return nil
	}
	defer release()

	audios, err := svc.DownloadedAudios(ctx)
	if err != nil {
		logger.Error("Failed to list downloads", zap.Error(err))
	}
	return cJSON(audios, err)
}

//export IsAudioDownloaded
func IsAudioDownloaded(trackID *C.char) C.int {
	svc, ok := acquire()
	if !ok {
		return 0
	}
	defer release()

	if svc.IsAudioDownloaded(ctx, C.GoString(trackID)) {
		return 1
	}
	return 0
}

//export DownloadAudio
func DownloadAudio(url *C.char, trackID *C.char) *C.char {
	return cString(downloadAudio(C.GoString(url), C.GoString(trackID)))
}

// downloadAudio blocks until the file is cached, reporting progress through
// the progress callback.
func downloadAudio(url, trackID string) (string, bool) {
	svc, ok := acquire()
	if !ok {
		return "", false
	}
	defer release()

	notifier := &CallbackNotifier{}
	path, err := svc.DownloadAudio(ctx, url, trackID, func(fraction float64) {
		notifier.NotifyProgress(trackID, fraction)
	})
	if err != nil {
		logger.Warn("Download failed", zap.String("track_id", trackID), zap.Error(err))
		return "", false
	}
	return path, true
}

//export EnqueueDownload
func EnqueueDownload(url *C.char, trackID *C.char) *C.char {
	svc, ok := acquire()
	if !ok {
		return nil
	}
	defer release()

	jobID, err := svc.EnqueueDownload(ctx, C.GoString(url), C.GoString(trackID))
	if err != nil {
		logger.Warn("Failed to enqueue download", zap.Error(err))
		return nil
	}
	return C.CString(jobID)
}

//export CancelDownload
func CancelDownload(trackID *C.char) C.int {
	svc, ok := acquire()
	if !ok {
		return codeNotInitialized
	}
	defer release()

	return C.int(errorCode(svc.CancelDownload(C.GoString(trackID))))
}

//export GetLocalAudioPath
func GetLocalAudioPath(trackID *C.char) *C.char {
	svc, ok := acquire()
	if !ok {
		return nil
	}
	defer release()

	return cString(svc.LocalAudioPath(ctx, C.GoString(trackID)))
}

//export DeleteDownloadedAudio
func DeleteDownloadedAudio(trackID *C.char) C.int {
	return C.int(deleteDownloadedAudio(C.GoString(trackID)))
}

func deleteDownloadedAudio(trackID string) int {
	svc, ok := acquire()
	if !ok {
		return codeNotInitialized
	}
	defer release()

	if err := svc.DeleteDownloadedAudio(ctx, trackID); err != nil {
		logger.Warn("Failed to delete download", zap.String("track_id", trackID), zap.Error(err))
		return errorCode(err)
	}
	return codeOK
}

// ClearAllDownloads returns the number of tracks removed. Tracks that could
// not be removed stay listed so the host can retry.
//
//export ClearAllDownloads
func ClearAllDownloads() C.int {
	svc, ok := acquire()
	if !ok {
		return codeNotInitialized
	}
	defer release()

	removed, err := svc.ClearAllDownloads(ctx)
	if err != nil {
		logger.Warn("Some downloads could not be cleared", zap.Int("removed", removed), zap.Error(err))
	}
	return C.int(removed)
}

//export SaveTrackMetadata
func SaveTrackMetadata(trackID *C.char, metadataJSON *C.char) C.int {
	return C.int(saveTrackMetadata(C.GoString(trackID), C.GoString(metadataJSON)))
}

func saveTrackMetadata(trackID, metadataJSON string) int {
	svc, ok := acquire()
	if !ok {
		return codeNotInitialized
	}
	defer release()

	if err := svc.SaveTrackMetadata(ctx, trackID, json.RawMessage(metadataJSON)); err != nil {
		logger.Warn("Failed to save track metadata", zap.String("track_id", trackID), zap.Error(err))
		return errorCode(err)
	}
	return codeOK
}

//export GetTrackMetadata
func GetTrackMetadata(trackID *C.char) *C.char {
	return cString(trackMetadata(C.GoString(trackID)))
}

func trackMetadata(trackID string) (string, bool) {
	svc, ok := acquire()
	if !ok {
		return "", false
	}
	defer release()

	data, found, err := svc.TrackMetadata(ctx, trackID)
	if err != nil {
		logger.Warn("Failed to read track metadata", zap.String("track_id", trackID), zap.Error(err))
		return "", false
	}
	return string(data), found
}

//export DeleteTrackMetadata
func DeleteTrackMetadata(trackID *C.char) C.int {
	svc, ok := acquire()
	if !ok {
		return codeNotInitialized
	}
	defer release()

	return C.int(errorCode(svc.DeleteTrackMetadata(ctx, C.GoString(trackID))))
}

//export GetCacheStats
func GetCacheStats() *C.char {
	svc, ok := acquire()
	if !ok {
		return nil
	}
	defer release()

	stats, err := svc.Stats(ctx)
	if err != nil {
		logger.Warn("Failed to compute cache stats", zap.Error(err))
	}
	return cJSON(stats, err)
}

//export GetHealth
func GetHealth() *C.char {
	svc, ok := acquire()
	if !ok {
		return nil
	}
	defer release()

	return cJSON(svc.Health(), nil)
}

//export ImportLegacyStore
func ImportLegacyStore(path *C.char) *C.char {
	svc, ok := acquire()
	if !ok {
		return nil
	}
	defer release()

	return cJSON(svc.ImportLegacy(ctx, C.GoString(path)), nil)
}
