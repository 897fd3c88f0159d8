package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var (
	AppLogger    *log.Logger
	BridgeLogger *log.Logger
	ErrorLogger  *log.Logger

	logLevel      string
	appLogFile    *os.File
	bridgeLogFile *os.File
	initialized   bool
)

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// openSink opens the log file at path, falling back to io.Discard when the
// directory or file cannot be created.
func openSink(path, name string) (io.Writer, *os.File, string) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		ErrorLogger.Printf("Failed to create %s log directory %s: %v. %s logs will be discarded.", name, dir, err, name)
		return io.Discard, nil, "(discarded)"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		ErrorLogger.Printf("Failed to open %s log file %s: %v. %s logs will be discarded.", name, path, err, name)
		return io.Discard, nil, "(discarded)"
	}
	return f, f, path
}

// InitGlobalLoggers opens app.log and bridge.log and sets the level gate.
// Calling it again with different settings reopens both files.
func InitGlobalLoggers(appLogPath, bridgeLogPath, level string) error {
	if initialized && appLogFile != nil && bridgeLogFile != nil && strings.ToUpper(level) == logLevel {
		return nil
	}
	closeFiles()

	logLevel = strings.ToUpper(level)
	if _, ok := levelRank[logLevel]; !ok {
		logLevel = "INFO"
	}

	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	var appWriter, bridgeWriter io.Writer
	var appShown, bridgeShown string
	appWriter, appLogFile, appShown = openSink(appLogPath, "app")
	bridgeWriter, bridgeLogFile, bridgeShown = openSink(bridgeLogPath, "bridge")

	AppLogger = log.New(appWriter, "APP: ", log.Ldate|log.Ltime|log.Lshortfile)
	BridgeLogger = log.New(bridgeWriter, "BRIDGE: ", log.Ldate|log.Ltime|log.Lshortfile)

	if !initialized {
		AppLogger.Printf("App logger initialized. Log level: %s. Output file: %s", logLevel, appShown)
		BridgeLogger.Printf("Bridge logger initialized. Log level: %s. Output file: %s", logLevel, bridgeShown)
	}
	initialized = true
	return nil
}

// Level reports the active level gate.
func Level() string {
	if logLevel == "" {
		return "INFO"
	}
	return logLevel
}

func enabled(level string) bool {
	current, ok := levelRank[logLevel]
	if !ok {
		current = levelRank["INFO"]
	}
	return levelRank[level] >= current
}

func Info(format string, v ...interface{}) {
	if AppLogger != nil && enabled("INFO") {
		AppLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Debug(format string, v ...interface{}) {
	if AppLogger != nil && enabled("DEBUG") {
		AppLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Warn(format string, v ...interface{}) {
	if AppLogger != nil && enabled("WARN") {
		AppLogger.Output(2, "WARN: "+fmt.Sprintf(format, v...))
	}
}

func Error(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
	}
	if AppLogger != nil && appLogFile != nil {
		AppLogger.Output(2, message)
	}
}

func Fatal(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Fatal(message)
	}
	log.Fatal(message)
}

func BridgeInfo(format string, v ...interface{}) {
	if BridgeLogger != nil && enabled("INFO") {
		BridgeLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func BridgeDebug(format string, v ...interface{}) {
	if BridgeLogger != nil && enabled("DEBUG") {
		BridgeLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func BridgeWarn(format string, v ...interface{}) {
	if BridgeLogger != nil && enabled("WARN") {
		BridgeLogger.Output(2, "WARN: "+fmt.Sprintf(format, v...))
	}
}

func BridgeError(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
	}
	if BridgeLogger != nil && bridgeLogFile != nil {
		BridgeLogger.Output(2, message)
	}
}

func closeFiles() {
	if appLogFile != nil {
		appLogFile.Close()
		appLogFile = nil
	}
	if bridgeLogFile != nil {
		bridgeLogFile.Close()
		bridgeLogFile = nil
	}
}

func CloseLogFiles() {
	if appLogFile != nil {
		AppLogger.Println("Closing app log file.")
	}
	if bridgeLogFile != nil {
		BridgeLogger.Println("Closing bridge log file.")
	}
	closeFiles()
	initialized = false
}
