package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/hdt3213/redimux/lib/logger"
	"gopkg.in/yaml.v3"
)

// DefaultConfPath is loaded when no config file is given
const DefaultConfPath = "redimux.conf"

// Properties holds global config properties
var Properties *ClientProperties

// ClientProperties defines config properties of a client
type ClientProperties struct {
	Host          string `cfg:"host" yaml:"host"`
	Port          int    `cfg:"port" yaml:"port"`
	Auth          string `cfg:"auth" yaml:"auth"`
	PipelineDepth int    `cfg:"pipeline-depth" yaml:"pipeline-depth"` // advisory watermark, not enforced
	Heartbeat     int    `cfg:"heartbeat-interval" yaml:"heartbeat-interval"` // seconds, 0 disables
	Transport     string `cfg:"transport" yaml:"transport"` // tcp or gnet
}

func init() {
	Properties = DefaultProperties()
}

// DefaultProperties returns the default client config
func DefaultProperties() *ClientProperties {
	return &ClientProperties{
		Host:      "localhost",
		Port:      6379,
		Transport: "tcp",
	}
}

// Address joins host and port
func (p *ClientProperties) Address() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

func parse(src io.Reader) *ClientProperties {
	config := DefaultProperties()

	// read config file
	rawMap := make(map[string]string)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		pivot := strings.IndexAny(line, " ")
		if pivot > 0 && pivot < len(line)-1 { // separator found
			key := line[0:pivot]
			value := strings.Trim(line[pivot+1:], " ")
			rawMap[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal(err)
	}

	// parse format
	t := reflect.TypeOf(config)
	v := reflect.ValueOf(config)
	n := t.Elem().NumField()
	for i := 0; i < n; i++ {
		field := t.Elem().Field(i)
		fieldVal := v.Elem().Field(i)
		key, ok := field.Tag.Lookup("cfg")
		if !ok {
			key = field.Name
		}
		value, ok := rawMap[strings.ToLower(key)]
		if ok {
			// fill config
			switch field.Type.Kind() {
			case reflect.String:
				fieldVal.SetString(value)
			case reflect.Int:
				intValue, err := strconv.ParseInt(value, 10, 64)
				if err == nil {
					fieldVal.SetInt(intValue)
				}
			case reflect.Bool:
				fieldVal.SetBool(toBool(value))
			case reflect.Slice:
				if field.Type.Elem().Kind() == reflect.String {
					slice := strings.Split(value, ",")
					fieldVal.Set(reflect.ValueOf(slice))
				}
			}
		}
	}
	return config
}

func parseYaml(src io.Reader) *ClientProperties {
	config := DefaultProperties()
	raw, err := io.ReadAll(src)
	if err != nil {
		logger.Fatal(err)
	}
	if err = yaml.Unmarshal(raw, config); err != nil {
		logger.Fatal(err)
	}
	return config
}

// SetupConfig read config file and store properties into Properties
func SetupConfig(configFilename string) {
	file, err := os.Open(configFilename)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	switch strings.ToLower(filepath.Ext(configFilename)) {
	case ".yaml", ".yml":
		Properties = parseYaml(file)
	default:
		Properties = parse(file)
	}
}

func toBool(s string) bool {
	ls := strings.ToLower(s)
	switch ls {
	case "true", "yes", "t", "y":
		return true
	default:
		return false
	}
}
