package build

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// File names written at the root of an assembled tree.
const (
	CMakeFileName    = "CMakeLists.txt"
	ManifestFileName = "manifest.yaml"
	MainFileName     = "main.cc"
)

// Library names declared by every manifest.
const (
	ProtocolLibrary  = "protocol"
	ProcessorLibrary = "processors"
	ServiceLibrary   = "services"
)

const cmakeMinimumVersion = "3.10"

// LibraryKind is the CMake library type.
type LibraryKind string

const (
	LibraryStatic LibraryKind = "STATIC"
	LibraryObject LibraryKind = "OBJECT"
)

// Library is one add_library() declaration.
type Library struct {
	Name        string      `json:"name" yaml:"name"`
	Kind        LibraryKind `json:"kind" yaml:"kind"`
	Sources     []string    `json:"sources" yaml:"sources"`
	IncludeDirs []string    `json:"include_dirs,omitempty" yaml:"include_dirs,omitempty"`
	Links       []string    `json:"links,omitempty" yaml:"links,omitempty"`
}

// Executable is the add_executable() declaration for the script binary.
type Executable struct {
	Name        string   `json:"name" yaml:"name"`
	Sources     []string `json:"sources" yaml:"sources"`
	IncludeDirs []string `json:"include_dirs,omitempty" yaml:"include_dirs,omitempty"`
	Links       []string `json:"links" yaml:"links"`
}

// Manifest describes how to build one script. It is always generated from
// scratch for the current dependency set and never patched.
type Manifest struct {
	Project      string       `json:"project" yaml:"project"`
	CXXStandard  int          `json:"cxx_standard" yaml:"cxx_standard"`
	Packages     []string     `json:"packages" yaml:"packages"`
	Protocol     Library      `json:"protocol" yaml:"protocol"`
	Processors   *Library     `json:"processors,omitempty" yaml:"processors,omitempty"`
	Services     *Library     `json:"services,omitempty" yaml:"services,omitempty"`
	Executable   Executable   `json:"executable" yaml:"executable"`
	Dependencies []Dependency `json:"dependencies" yaml:"dependencies"`
}

// treeSources lists the sources found in an assembled tree, relative to its
// root, with forward slashes and in sorted order.
type treeSources struct {
	Processors []string
	Services   []string
	Messages   []string // generated/messages
	Stubs      []string // generated/services
}

// newManifest derives the manifest from what is actually present in the tree.
// Object libraries are declared only when their source set is non-empty; the
// executable links the protocol library regardless.
func newManifest(project string, src treeSources, deps []Dependency) *Manifest {
	m := &Manifest{
		Project:     project,
		CXXStandard: 17,
		Packages:    []string{"Protobuf", "gRPC"},
		Protocol: Library{
			Name:        ProtocolLibrary,
			Kind:        LibraryStatic,
			Sources:     append(append([]string{}, src.Messages...), src.Stubs...),
			IncludeDirs: []string{"generated"},
			Links:       []string{"gRPC::grpc++", "protobuf::libprotobuf"},
		},
		Executable: Executable{
			Name:        project,
			Sources:     []string{MainFileName},
			IncludeDirs: []string{"include", "generated"},
		},
		Dependencies: deps,
	}
	if m.Dependencies == nil {
		m.Dependencies = []Dependency{}
	}

	var links []string
	if len(src.Processors) > 0 {
		m.Processors = &Library{
			Name:        ProcessorLibrary,
			Kind:        LibraryObject,
			Sources:     src.Processors,
			IncludeDirs: []string{"include"},
		}
		links = append(links, ProcessorLibrary)
	}
	if len(src.Services) > 0 {
		m.Services = &Library{
			Name:        ServiceLibrary,
			Kind:        LibraryObject,
			Sources:     src.Services,
			IncludeDirs: []string{"include", "generated"},
			Links:       []string{ProtocolLibrary},
		}
		links = append(links, ServiceLibrary)
	}
	m.Executable.Links = append(links, ProtocolLibrary)
	return m
}

// HasProcessors reports whether a processor object library is declared.
func (m *Manifest) HasProcessors() bool { return m.Processors != nil }

// HasServices reports whether a service object library is declared.
func (m *Manifest) HasServices() bool { return m.Services != nil }

// Libraries returns the declared libraries in declaration order.
func (m *Manifest) Libraries() []Library {
	libs := []Library{m.Protocol}
	if m.Processors != nil {
		libs = append(libs, *m.Processors)
	}
	if m.Services != nil {
		libs = append(libs, *m.Services)
	}
	return libs
}

// RenderCMake serializes the manifest as a CMakeLists.txt.
func (m *Manifest) RenderCMake() []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "cmake_minimum_required(VERSION %s)\n", cmakeMinimumVersion)
	fmt.Fprintf(&b, "project(%s)\n\n", m.Project)
	fmt.Fprintf(&b, "set(CMAKE_CXX_STANDARD %d)\n", m.CXXStandard)
	b.WriteString("set(CMAKE_CXX_STANDARD_REQUIRED ON)\n\n")

	for _, pkg := range m.Packages {
		fmt.Fprintf(&b, "find_package(%s CONFIG REQUIRED)\n", pkg)
	}
	b.WriteString("\n")

	for _, lib := range m.Libraries() {
		fmt.Fprintf(&b, "add_library(%s %s\n", lib.Name, lib.Kind)
		writeList(&b, lib.Sources)
		b.WriteString(")\n")
		if len(lib.IncludeDirs) > 0 {
			fmt.Fprintf(&b, "target_include_directories(%s PUBLIC %s)\n", lib.Name, strings.Join(lib.IncludeDirs, " "))
		}
		if len(lib.Links) > 0 {
			fmt.Fprintf(&b, "target_link_libraries(%s PUBLIC %s)\n", lib.Name, strings.Join(lib.Links, " "))
		}
		b.WriteString("\n")
	}

	exe := m.Executable
	fmt.Fprintf(&b, "add_executable(%s\n", exe.Name)
	writeList(&b, exe.Sources)
	b.WriteString(")\n")
	if len(exe.IncludeDirs) > 0 {
		fmt.Fprintf(&b, "target_include_directories(%s PRIVATE %s)\n", exe.Name, strings.Join(exe.IncludeDirs, " "))
	}
	fmt.Fprintf(&b, "target_link_libraries(%s PRIVATE %s)\n", exe.Name, strings.Join(exe.Links, " "))

	return []byte(b.String())
}

// EncodeYAML serializes the manifest for manifest.yaml.
func (m *Manifest) EncodeYAML() ([]byte, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return out, nil
}

// DecodeManifest parses a manifest.yaml produced by EncodeYAML.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "    %s\n", path.Clean(item))
	}
}
