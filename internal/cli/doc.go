// Package cli реализует команды утилиты mdds.
//
// Команды:
//   - submit  — читает A и b из CSV, сохраняет NEW и публикует задачу
//   - cancel  — отправляет запрос отмены в очередь отмены задачи
//   - result  — показывает запись задачи из хранилища
//   - methods — список методов решения
//
// Вывод — таблица (text/tabwriter) или JSON при --json.
package cli
