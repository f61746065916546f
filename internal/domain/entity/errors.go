package entity

import "errors"

var (
	// ErrNotFound показание с таким ID не найдено
	ErrNotFound = errors.New("reading not found")

	// ErrDispositionConflict показание уже получило терминальное решение;
	// выигрывает первый успешный вызов, второй получает эту ошибку.
	ErrDispositionConflict = errors.New("reading already dispositioned")

	// ErrStaleEdit правка пришла к показанию, которое уже закрыто другим оператором
	ErrStaleEdit = errors.New("reading is no longer editable")

	// ErrInvalidTransition переход нарушает порядок статусов
	ErrInvalidTransition = errors.New("invalid status transition")
)
