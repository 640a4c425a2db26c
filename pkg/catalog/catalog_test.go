package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLibrary_Collections(t *testing.T) {
	lib := Library()

	want := []string{
		"usuarios", "funcionarios", "cliente", "editoras", "autores",
		"livros", "reservas", "secao", "emprestimos", "multas",
	}
	if got := lib.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestLibrary_RequiredFields(t *testing.T) {
	tests := map[string][]string{
		"usuarios":     {"_id", "primeiro_nome", "sobrenome", "data_nascimento", "email", "celular", "endereco"},
		"funcionarios": {"matricula", "usuario_cpf"},
		"cliente":      {"usuario_cpf", "livros_digitais_baixados"},
		"editoras":     {"_id", "nome"},
		"autores":      {"_id", "nome", "livros_escritos"},
		"livros": {
			"_id", "titulo", "edicao", "num_paginas", "data_cadastro",
			"editora_cnpj", "funcionario_matricula", "data_publicacao",
			"autores", "categorias", "digital", "fisico",
		},
		"reservas":    {"_id", "status", "data_reserva", "cliente_usuario_cpf", "livros_fisicos"},
		"secao":       {"_id", "localizador"},
		"emprestimos": {"_id", "cliente_usuario_cpf", "data_emprestimo", "status", "quant_livros", "itens"},
		"multas":      {"_id", "descricao", "preco", "emprestimo_id", "item_emprestimo_id"},
	}

	lib := Library()
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			col, err := lib.Collection(name)
			if err != nil {
				t.Fatalf("Collection() error = %v", err)
			}
			if got := col.Required(); !reflect.DeepEqual(got, want) {
				t.Errorf("Required() = %v, want %v", got, want)
			}
		})
	}
}

func TestLibrary_NestedDefinitions(t *testing.T) {
	lib := Library()

	livros, _ := lib.Collection("livros")
	fisico := findField(t, livros.Fields, "fisico")
	exemplares := findField(t, fisico.Fields, "exemplares")
	if exemplares.Items == nil {
		t.Fatal("exemplares must describe its items")
	}
	status := findField(t, exemplares.Items.Fields, "status")
	if !reflect.DeepEqual(status.Enum, []string{"disponível", "emprestado"}) {
		t.Errorf("status enum = %v", status.Enum)
	}

	emprestimos, _ := lib.Collection("emprestimos")
	itens := findField(t, emprestimos.Fields, "itens")
	entrega := findField(t, itens.Items.Fields, "data_entrega")
	if !entrega.Types.Has(TypeNull) || !entrega.Types.Has(TypeString) || entrega.Required {
		t.Errorf("data_entrega = %+v, want optional null or string", entrega)
	}

	usuarios, _ := lib.Collection("usuarios")
	endereco := findField(t, usuarios.Fields, "endereco")
	if cep := findField(t, endereco.Fields, "cep"); cep.Pattern != `^\d{5}-\d{3}$` {
		t.Errorf("cep pattern = %q", cep.Pattern)
	}
	if celular := findField(t, usuarios.Fields, "celular"); celular.Items.Pattern != `^\d{11}$` {
		t.Errorf("celular pattern = %q", celular.Items.Pattern)
	}
}

func findField(t *testing.T, fields []Field, name string) Field {
	t.Helper()
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %s not found", name)
	return Field{}
}

func TestCatalog_Add(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tags := Collection{
		Name: "etiquetas",
		Fields: []Field{
			{Name: "_id", Types: TypeSet{TypeString}, Required: true},
			{Name: "cor", Types: TypeSet{TypeString}, Enum: []string{"azul", "verde"}},
		},
	}
	if err := c.Add(tags); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := c.Add(tags); !errors.Is(err, ErrDuplicateCollection) {
		t.Errorf("second Add() error = %v, want ErrDuplicateCollection", err)
	}
	if got := c.Names(); !reflect.DeepEqual(got, []string{"etiquetas"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestCatalog_AddRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		col  Collection
	}{
		{name: "missing name", col: Collection{}},
		{name: "missing type", col: Collection{Name: "x", Fields: []Field{{Name: "a"}}}},
		{name: "unknown type", col: Collection{Name: "x", Fields: []Field{{Name: "a", Types: TypeSet{"varchar"}}}}},
		{name: "bad pattern", col: Collection{Name: "x", Fields: []Field{{Name: "a", Types: TypeSet{TypeString}, Pattern: "([a-z"}}}},
		{name: "items on string", col: Collection{Name: "x", Fields: []Field{{Name: "a", Types: TypeSet{TypeString}, Items: &Field{Types: TypeSet{TypeString}}}}}},
		{name: "fields on int", col: Collection{Name: "x", Fields: []Field{{Name: "a", Types: TypeSet{TypeInt}, Fields: []Field{{Name: "b", Types: TypeSet{TypeInt}}}}}}},
		{name: "duplicate field", col: Collection{Name: "x", Fields: []Field{{Name: "a", Types: TypeSet{TypeInt}}, {Name: "a", Types: TypeSet{TypeInt}}}}},
		{name: "nested unnamed field", col: Collection{Name: "x", Fields: []Field{{Name: "a", Types: TypeSet{TypeObject}, Fields: []Field{{Types: TypeSet{TypeInt}}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := New()
			if err := c.Add(tt.col); !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Add() error = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestLoad_AddsCollectionsFromData(t *testing.T) {
	def := `
collections:
  - name: eventos
    fields:
      - {name: _id, type: int, required: true}
      - {name: data, type: string, pattern: '^\d{4}-\d{2}-\d{2}$', required: true}
      - name: convidados
        type: array
        items: {type: string}
`
	c, err := Load(strings.NewReader(def))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	col, err := c.Collection("eventos")
	if err != nil {
		t.Fatalf("Collection() error = %v", err)
	}
	if !reflect.DeepEqual(col.Required(), []string{"_id", "data"}) {
		t.Errorf("Required() = %v", col.Required())
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	def := `
collections:
  - name: eventos
    fields:
      - {name: _id, type: int, obrigatorio: true}
`
	if _, err := Load(strings.NewReader(def)); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("Load() error = %v, want ErrInvalidDefinition", err)
	}
}

func TestLoad_TypeMustBeScalarOrList(t *testing.T) {
	def := `
collections:
  - name: eventos
    fields:
      - {name: _id, type: {kind: int}}
`
	if _, err := Load(strings.NewReader(def)); err == nil {
		t.Error("expected error for a mapping type")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("collections:\n  - name: vazia\n    fields: []\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := c.Names(); !reflect.DeepEqual(got, []string{"vazia"}) {
		t.Errorf("Names() = %v", got)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCatalog_UnknownCollection(t *testing.T) {
	if _, err := Library().Collection("revistas"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("Collection() error = %v, want ErrUnknownCollection", err)
	}
}
